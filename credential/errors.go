package credential

import (
	"fmt"
	"strings"
)

// NoUsableCredentialError is returned when the keystore holds no entry with
// both a private key and a certificate.
type NoUsableCredentialError struct {
	Aliases []string
}

func (e *NoUsableCredentialError) Error() string {
	if len(e.Aliases) == 0 {
		return "no usable signing credential: keystore is empty"
	}
	return fmt.Sprintf("no usable signing credential among aliases %s", strings.Join(e.Aliases, ", "))
}

// InvalidCredentialError rejects a candidate whose certificate is outside
// its validity window.
type InvalidCredentialError struct {
	Alias string
	Msg   string
	Err   error
}

func (e *InvalidCredentialError) Error() string {
	msg := fmt.Sprintf("credential %q is invalid: %s", e.Alias, e.Msg)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *InvalidCredentialError) Unwrap() error {
	return e.Err
}

// PolicyWarning reports a certificate usage that is not meant for document
// signing. In strict mode it rejects the candidate.
type PolicyWarning struct {
	Alias string
	Msg   string
}

func (e *PolicyWarning) Error() string {
	return fmt.Sprintf("credential %q: %s", e.Alias, e.Msg)
}
