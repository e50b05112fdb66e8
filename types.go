package htmlpdfsign

import (
	"crypto"
	"crypto/x509"
	"time"

	"go.uber.org/zap"

	"github.com/digitorus/htmlpdfsign/credential"
	"github.com/digitorus/htmlpdfsign/internal/metrics"
	"github.com/digitorus/htmlpdfsign/render"
)

// Options configure a Signer.
type Options struct {
	// Alias pins the keystore entry to sign with. When empty, or when the
	// alias has no usable key, the first entry passing the policy is used.
	Alias string

	// Strict rejects certificates whose key usage is not meant for document
	// signing instead of logging a warning.
	Strict bool

	// Digest defaults to SHA-256.
	Digest crypto.Hash

	// Name of the signer written into the signature dictionary. Defaults to
	// the common name of the signing certificate.
	Name     string
	Location string
	Reason   string
	Contact  string

	// OutputDir receives signed files. Empty writes next to the input.
	OutputDir string

	// Timeout bounds rendering and signing of one document. Zero means no
	// deadline beyond the caller's context.
	Timeout time.Duration

	// Workers bounds the number of documents SignFiles processes at once.
	Workers int

	// ReservedSize overrides the number of bytes reserved for the signature.
	ReservedSize int

	Renderer render.Renderer
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	Now func() time.Time
}

// SignatureInfo describes a signature that was written.
type SignatureInfo struct {
	Input  string
	Output string

	Alias         string
	SignerName    string
	SigningTime   time.Time
	Certificate   *x509.Certificate
	SignatureSize int

	// Warnings are the policy findings accepted outside strict mode.
	Warnings []*credential.PolicyWarning
}

// Result is the outcome of signing one file of a batch.
type Result struct {
	Input string
	Info  *SignatureInfo
	Err   error
}
