package mailbox

import (
	"context"
	"errors"
	"strings"

	"mailsync_server/core/port/out"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/logger"
)

// DefaultFolder is tried when the server lists no folders at all.
const DefaultFolder = "INBOX"

// Enumeration is the folder that was opened and every id it holds.
type Enumeration struct {
	Folder string
	IDs    []string
}

// Enumerator picks the primary folder and lists its message ids.
type Enumerator struct{}

func NewEnumerator() *Enumerator {
	return &Enumerator{}
}

// Enumerate lists folders, opens the best candidate read-only and runs one
// search-all query. An empty mailbox is a valid result.
func (e *Enumerator) Enumerate(ctx context.Context, sess out.MailboxSession, folderHint string) (*Enumeration, error) {
	folders, err := sess.ListFolders(ctx)
	if err != nil {
		return nil, apperr.SessionError("list folders", err)
	}

	candidates := CandidateFolders(folders, folderHint)

	var (
		opened  string
		openErr error
	)
	for _, folder := range candidates {
		if err := sess.OpenReadOnly(ctx, folder); err != nil {
			logger.WithError(err).Warn("[Enumerator.Enumerate] could not open folder %q", folder)
			openErr = errors.Join(openErr, err)
			continue
		}
		opened = folder
		break
	}
	if opened == "" {
		return nil, apperr.FolderOpenError(candidates, openErr)
	}

	ids, err := sess.SearchAll(ctx)
	if err != nil {
		return nil, apperr.EnumerationError(opened, err)
	}

	logger.Debug("[Enumerator.Enumerate] folder=%s messages=%d", opened, len(ids))
	return &Enumeration{Folder: opened, IDs: ids}, nil
}

// CandidateFolders orders the folders to try: the first name equal to
// "inbox" ignoring case, then the provider hint whether listed or not, then
// the first listed folder. Duplicates are dropped. With nothing listed
// DefaultFolder follows the hint.
func CandidateFolders(folders []string, hint string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, f := range folders {
		if strings.EqualFold(f, "inbox") {
			add(f)
			break
		}
	}
	add(hint)
	if len(folders) > 0 {
		add(folders[0])
	} else {
		add(DefaultFolder)
	}
	return out
}
