package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"mailsync_server/core/domain"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// recordNamespace seeds deterministic record ids.
var recordNamespace = uuid.MustParse("6f1d2c1e-4b8a-5e55-9a3f-7c2b1d0e9f41")

// ErrEmptyMessage is returned for a fetch result without any bytes.
var ErrEmptyMessage = errors.New("empty message")

// ParseMeta is the run context a record is stamped with.
type ParseMeta struct {
	Account        string
	ProviderDomain string
	SyncedAt       time.Time
}

// Parser converts raw RFC 5322 messages into records. It holds no state and
// is safe for concurrent use. Parsing the same bytes with the same meta
// always yields an equal record.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(raw *domain.RawMessage, meta ParseMeta) (*domain.MessageRecord, error) {
	if raw == nil || len(bytes.TrimSpace(raw.Body)) == 0 {
		return nil, ErrEmptyMessage
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw.Body))
	if err != nil && !(message.IsUnknownCharset(err) && mr != nil) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	defer mr.Close()

	rec := &domain.MessageRecord{
		Account:        meta.Account,
		ServerID:       raw.ServerID,
		ProviderDomain: meta.ProviderDomain,
		SyncedAt:       meta.SyncedAt,
	}

	rec.From = addressHeader(&mr.Header, "From")
	rec.To = addressHeader(&mr.Header, "To")
	rec.Cc = addressHeader(&mr.Header, "Cc")
	rec.Subject = textHeader(&mr.Header, "Subject")
	if id, err := mr.Header.MessageID(); err == nil {
		rec.MessageID = id
	}

	// sent date -> server internal date -> run clock
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		rec.SentAt = date.UTC()
	} else if !raw.InternalDate.IsZero() {
		rec.SentAt = raw.InternalDate.UTC()
	} else {
		rec.SentAt = meta.SyncedAt.UTC()
	}

	if err := readParts(mr, rec); err != nil {
		return nil, err
	}
	if rec.BodyText == "" && rec.BodyHTML != "" {
		rec.BodyText = htmlToText(rec.BodyHTML)
	}

	rec.ID = uuid.NewSHA1(recordNamespace, []byte(meta.Account+"\x00"+raw.ServerID+"\x00"+rec.MessageID)).String()
	return rec, nil
}

func readParts(mr *mail.Reader, rec *domain.MessageRecord) error {
	var text, htmlBody strings.Builder
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !(message.IsUnknownCharset(err) && part != nil) {
			return fmt.Errorf("read part: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch ct {
			case "text/plain", "":
				if text.Len() == 0 {
					b, err := io.ReadAll(part.Body)
					if err != nil {
						return fmt.Errorf("read text part: %w", err)
					}
					text.Write(b)
				}
			case "text/html":
				if htmlBody.Len() == 0 {
					b, err := io.ReadAll(part.Body)
					if err != nil {
						return fmt.Errorf("read html part: %w", err)
					}
					htmlBody.Write(b)
				}
			default:
				// inline images and the like
				rec.AttachmentCount++
			}
		case *mail.AttachmentHeader:
			rec.AttachmentCount++
		}
	}
	rec.BodyText = strings.TrimSpace(text.String())
	rec.BodyHTML = strings.TrimSpace(htmlBody.String())
	return nil
}

func addressHeader(h *mail.Header, key string) string {
	if addrs, err := h.AddressList(key); err == nil && len(addrs) > 0 {
		parts := make([]string, 0, len(addrs))
		for _, a := range addrs {
			if a.Name != "" {
				parts = append(parts, fmt.Sprintf("%s <%s>", a.Name, a.Address))
			} else {
				parts = append(parts, a.Address)
			}
		}
		return strings.Join(parts, ", ")
	}
	return textHeader(h, key)
}

func textHeader(h *mail.Header, key string) string {
	if v, err := h.Text(key); err == nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(h.Get(key))
}

func htmlToText(body string) string {
	z := html.NewTokenizer(strings.NewReader(body))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken, html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skip++
				} else if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
	}
}
