package cms

import "fmt"

// SigningError is returned when the CMS structure could not be produced.
type SigningError struct {
	Msg string
	Err error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *SigningError) Unwrap() error {
	return e.Err
}
