package htmlpdfsign

import (
	"bytes"
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/digitorus/htmlpdfsign/cms"
	"github.com/digitorus/htmlpdfsign/credential"
	"github.com/digitorus/htmlpdfsign/sign"
)

// Sign appends a signature to the PDF read from input and writes the
// complete signed document to output. Nothing is written on failure.
func (s *Signer) Sign(ctx context.Context, input io.ReadSeeker, size int64, output io.Writer) (*SignatureInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.sign(ctx, input, size, output)
}

// SignBytes signs the PDF held in input and returns the signed document.
func (s *Signer) SignBytes(ctx context.Context, input []byte) ([]byte, *SignatureInfo, error) {
	var out bytes.Buffer
	out.Grow(len(input) + 4*sign.DefaultSignatureSize + 8192)

	info, err := s.Sign(ctx, bytes.NewReader(input), int64(len(input)), &out)
	if err != nil {
		return nil, nil, err
	}
	return out.Bytes(), info, nil
}

func (s *Signer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// sign runs one complete signing operation and records it in the metrics.
func (s *Signer) sign(ctx context.Context, input io.ReadSeeker, size int64, output io.Writer) (info *SignatureInfo, err error) {
	start := time.Now()
	defer func() {
		sigBytes := 0
		if info != nil {
			sigBytes = info.SignatureSize
		}
		s.opts.Metrics.ObserveSign(time.Since(start), sigBytes, Kind(err))
	}()

	id, err := credential.Select(s.ks, credential.Options{
		PreferredAlias: s.opts.Alias,
		Strict:         s.opts.Strict,
		Now:            s.opts.Now,
		Logger:         s.log,
	})
	if err != nil {
		return nil, err
	}

	name := s.opts.Name
	if name == "" {
		name = id.Leaf().Subject.CommonName
	}

	info = &SignatureInfo{
		Alias:       id.Alias,
		SignerName:  name,
		SigningTime: s.opts.Now(),
		Certificate: id.Leaf(),
		Warnings:    id.Warnings,
	}

	data := sign.SignData{
		Placeholder: sign.SignaturePlaceholder{
			Name:         name,
			Location:     s.opts.Location,
			Reason:       s.opts.Reason,
			ContactInfo:  s.opts.Contact,
			Date:         info.SigningTime,
			ReservedSize: s.reservedSize(id),
		},
		Appearance: sign.Appearance{
			Signer: name,
		},
		Signer: func(ctx context.Context, content io.Reader) ([]byte, error) {
			sig, err := cms.Sign(content, id, cms.Options{Digest: s.opts.Digest})
			if err != nil {
				return nil, err
			}
			info.SignatureSize = len(sig)
			return sig, nil
		},
		Logger: s.log,
	}

	if err := sign.Embed(ctx, input, size, output, data); err != nil {
		return nil, err
	}

	s.log.Info("signed document",
		zap.String("alias", info.Alias),
		zap.String("signer", info.SignerName),
		zap.Int("signature_bytes", info.SignatureSize),
		zap.Duration("elapsed", time.Since(start)),
	)
	return info, nil
}

// reservedSize keeps the default reservation unless the chain of id is
// expected to produce a larger signature.
func (s *Signer) reservedSize(id *credential.Identity) int {
	if s.opts.ReservedSize > 0 {
		return s.opts.ReservedSize
	}
	reserved := 2 * sign.DefaultSignatureSize
	if estimate := cms.EstimateSize(id, s.opts.Digest); estimate*3/2 > reserved {
		s.log.Debug("raising signature reservation",
			zap.Int("estimate", estimate),
			zap.Int("default", reserved),
		)
		reserved = estimate * 3 / 2
	}
	return reserved
}
