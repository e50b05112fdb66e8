package htmlpdfsign

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitorus/htmlpdfsign/cms"
	"github.com/digitorus/htmlpdfsign/credential"
	"github.com/digitorus/htmlpdfsign/keystore"
	"github.com/digitorus/htmlpdfsign/sign"
)

// IOError is returned when an input cannot be read or an output cannot be
// written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// RenderError is returned when HTML could not be laid out as PDF.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render pdf: %v", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Error kinds returned by Kind.
const (
	KindKeystoreLoad            = "KeystoreLoadError"
	KindNoUsableCredential      = "NoUsableCredential"
	KindInvalidCredential       = "InvalidCredential"
	KindCredentialPolicyWarning = "CredentialPolicyWarning"
	KindSigning                 = "SigningError"
	KindMalformedDocument       = "MalformedDocument"
	KindIO                      = "IOError"
	KindRender                  = "RenderError"
	KindTimeout                 = "Timeout"
	KindCanceled                = "Canceled"
	KindUnknown                 = "Error"
)

// Kind names the class of err, or returns "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	var (
		loadErr      *keystore.LoadError
		noUsable     *credential.NoUsableCredentialError
		invalid      *credential.InvalidCredentialError
		warning      *credential.PolicyWarning
		signingErr   *cms.SigningError
		malformedErr *sign.MalformedDocumentError
		ioErr        *IOError
		renderErr    *RenderError
	)
	switch {
	case errors.As(err, &loadErr):
		return KindKeystoreLoad
	case errors.As(err, &noUsable):
		return KindNoUsableCredential
	case errors.As(err, &invalid):
		return KindInvalidCredential
	case errors.As(err, &warning):
		return KindCredentialPolicyWarning
	case errors.As(err, &signingErr):
		return KindSigning
	case errors.As(err, &malformedErr):
		return KindMalformedDocument
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &renderErr):
		return KindRender
	case errors.As(err, &ioErr):
		return KindIO
	default:
		return KindUnknown
	}
}
