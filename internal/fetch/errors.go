package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindNetwork covers transport failures, non-2xx responses and truncated streams.
	KindNetwork Kind = iota
	// KindIO covers local filesystem failures.
	KindIO
)

func (k Kind) String() string {
	if k == KindIO {
		return "io"
	}
	return "network"
}

// FetchError describes a failed download.
type FetchError struct {
	Kind Kind
	URL  string
	Path string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s -> %s (%s): %v", e.URL, e.Path, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *FetchError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}
