package acceptance

import "errors"

// ErrorKind classifies business-rule failures so entry points can pick the
// message and exit code shown to the user.
type ErrorKind string

// Error kinds.
const (
	KindPrecondition ErrorKind = "precondition"
	KindNotFound     ErrorKind = "not_found"
	KindNotWaiting   ErrorKind = "not_waiting"
)

// Error is a classified business-rule failure.
//
// Values created with [NewError] are comparable sentinels: wrap them with %w
// and match with errors.Is.
type Error struct {
	kind ErrorKind
	msg  string
}

// NewError returns a new classified error.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// ErrorKind returns the classification of the error.
func (e *Error) ErrorKind() ErrorKind {
	return e.kind
}

// KindOf returns the kind of the first classified error in err's chain, or
// "" if there is none.
func KindOf(err error) ErrorKind {
	var k interface{ ErrorKind() ErrorKind }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return ""
}
