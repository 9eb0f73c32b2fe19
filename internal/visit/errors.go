package visit

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can report it without string matching.
type Kind string

// Failure kinds reported per unit of work.
const (
	KindResolution    Kind = "resolution"
	KindFetch         Kind = "fetch"
	KindRenderTimeout Kind = "render-timeout"
	KindRender        Kind = "render"
	KindCapture       Kind = "capture"
	KindStore         Kind = "store"
	KindSetup         Kind = "setup"
	KindUnknown       Kind = "unknown"
)

// Error carries a Kind alongside the operation and URL that failed.
type Error struct {
	Kind Kind
	Op   string
	URL  string
	Err  error
}

// Errorf wraps err with a kind. A nil err yields nil.
func Errorf(kind Kind, op, url string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the outermost Kind in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindUnknown
}
