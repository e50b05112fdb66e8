package sign

import (
	"errors"
	"fmt"
)

var (
	ErrSignatureTooLarge = errors.New("signature does not fit the reserved placeholder")
	ErrEncrypted         = errors.New("encrypted documents are not supported")
	ErrNoSigner          = errors.New("no signing function configured")
)

// MalformedDocumentError reports a document whose structure cannot be
// updated, or an update that could not be completed.
type MalformedDocumentError struct {
	Msg string
	Err error
}

func (e *MalformedDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *MalformedDocumentError) Unwrap() error {
	return e.Err
}

func malformed(msg string, err error) error {
	return &MalformedDocumentError{Msg: msg, Err: err}
}
