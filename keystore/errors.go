package keystore

import (
	"errors"
	"fmt"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported keystore format")
	ErrIncorrectPassword = pkcs12.ErrIncorrectPassword
)

// LoadError reports a keystore that could not be opened or decoded.
type LoadError struct {
	Path string
	Msg  string
	Err  error
}

func (e *LoadError) Error() string {
	msg := e.Msg
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", e.Msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
