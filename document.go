// Package htmlpdfsign renders HTML documents to PDF and signs PDF documents
// with a detached CMS signature taken from a PKCS#12 or JKS keystore.
//
// Basic usage:
//
//	ks, err := keystore.LoadFile("signing.p12", password)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s := htmlpdfsign.New(ks, htmlpdfsign.Options{
//	    Reason:   "Approved",
//	    Location: "Amsterdam",
//	})
//
//	info, err := s.SignFile(ctx, "invoice.pdf") // writes invoice-signed.pdf
//
// Every operation selects its signing credential again, so a Signer may be
// shared between goroutines.
package htmlpdfsign

import (
	"crypto"
	"time"

	"go.uber.org/zap"

	"github.com/digitorus/htmlpdfsign/cms"
	"github.com/digitorus/htmlpdfsign/config"
	"github.com/digitorus/htmlpdfsign/internal/logger"
	"github.com/digitorus/htmlpdfsign/internal/metrics"
	"github.com/digitorus/htmlpdfsign/keystore"
	"github.com/digitorus/htmlpdfsign/render"
)

// Signer signs documents with credentials from a single keystore.
type Signer struct {
	ks   *keystore.KeyStore
	opts Options
	log  *zap.Logger
}

// New returns a Signer using ks. The keystore is only read.
func New(ks *keystore.KeyStore, opts Options) *Signer {
	if opts.Digest == 0 {
		opts.Digest = crypto.SHA256
	}
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultWorkers
	}
	if opts.Renderer == nil {
		opts.Renderer = render.FPDF{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Signer{
		ks:   ks,
		opts: opts,
		log:  logger.OrNop(opts.Logger),
	}
}

// Open loads the keystore named by cfg and returns a Signer configured from
// it. m may be nil.
func Open(cfg *config.Config, log *zap.Logger, m *metrics.Metrics) (*Signer, error) {
	log = logger.OrNop(log)

	digest, err := cms.ParseDigest(cfg.Policy.Digest)
	if err != nil {
		return nil, err
	}

	ks, err := keystore.LoadFile(cfg.Keystore.Path, cfg.Keystore.Password,
		keystore.WithFormat(cfg.KeystoreFormat()),
		keystore.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	log.Info("loaded keystore",
		zap.String("path", cfg.Keystore.Path),
		zap.Stringer("format", ks.Format()),
		zap.Int("entries", ks.Len()),
	)

	return New(ks, Options{
		Alias:     cfg.Keystore.Alias,
		Strict:    cfg.Policy.Strict,
		Digest:    digest,
		Name:      cfg.Signature.Name,
		Location:  cfg.Signature.Location,
		Reason:    cfg.Signature.Reason,
		Contact:   cfg.Signature.Contact,
		OutputDir: cfg.Output.Directory,
		Timeout:   cfg.Timeout,
		Workers:   cfg.Workers,
		Renderer:  render.FPDF{PageSize: cfg.Render.PageSize},
		Logger:    log,
		Metrics:   m,
	}), nil
}

// KeyStore returns the keystore the Signer selects credentials from.
func (s *Signer) KeyStore() *keystore.KeyStore {
	return s.ks
}
