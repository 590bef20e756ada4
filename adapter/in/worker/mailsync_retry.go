package worker

import (
	"errors"
	"fmt"

	"mailsync_server/pkg/apperr"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func errUnknownJob(jobType string) error {
	return fmt.Errorf("unknown job type %q", jobType)
}

// nonRetryableCodes fail identically on every attempt.
var nonRetryableCodes = map[string]bool{
	apperr.CodeInvalidAddress:     true,
	apperr.CodeUnsupportedDomain:  true,
	apperr.CodeMissingCredentials: true,
	apperr.CodeBadRequest:         true,
	apperr.CodeMissingField:       true,
}

// IsRetryable reports whether a failed job should be submitted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	return !nonRetryableCodes[apperr.CodeOf(err)]
}
