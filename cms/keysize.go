package cms

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/digitorus/htmlpdfsign/credential"
)

// Reasons an identity cannot sign, wrapped in a *SigningError.
var (
	ErrNoCertificate  = errors.New("identity has no certificate")
	ErrNoPrivateKey   = errors.New("identity has no private key")
	ErrKeyMismatch    = errors.New("private key does not belong to the signing certificate")
	ErrUnsupportedKey = errors.New("unsupported key type")
)

const (
	// envelopeOverhead covers the SignedData structure, the signer info and
	// the fixed signed attributes.
	envelopeOverhead = 512

	// unknownSignatureSize is assumed for keys rawSignatureSize cannot size.
	unknownSignatureSize = 512
)

type equalKey interface {
	Equal(crypto.PublicKey) bool
}

// checkIdentity verifies that id holds a private key for the public key of
// its leaf certificate.
func checkIdentity(id *credential.Identity) error {
	if id == nil || len(id.Chain) == 0 || id.Chain[0] == nil {
		return &SigningError{Msg: "signing identity has no certificate", Err: ErrNoCertificate}
	}
	if id.Signer == nil {
		return &SigningError{Msg: fmt.Sprintf("credential %q", id.Alias), Err: ErrNoPrivateKey}
	}

	pub, ok := id.Signer.Public().(equalKey)
	if !ok {
		return &SigningError{
			Msg: fmt.Sprintf("credential %q", id.Alias),
			Err: fmt.Errorf("%w: %T", ErrUnsupportedKey, id.Signer.Public()),
		}
	}
	if !pub.Equal(id.Leaf().PublicKey) {
		return &SigningError{Msg: fmt.Sprintf("credential %q", id.Alias), Err: ErrKeyMismatch}
	}
	return nil
}

// rawSignatureSize returns the largest signature value pub can verify.
func rawSignatureSize(pub crypto.PublicKey) (int, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N == nil {
			return 0, fmt.Errorf("%w: RSA key without modulus", ErrUnsupportedKey)
		}
		return k.Size(), nil
	case *ecdsa.PublicKey:
		if k.Curve == nil {
			return 0, fmt.Errorf("%w: ECDSA key without curve", ErrUnsupportedKey)
		}
		// SEQUENCE { r INTEGER, s INTEGER } with a possible leading zero on each.
		coord := (k.Curve.Params().BitSize + 7) / 8
		return 2*coord + 9, nil
	case ed25519.PublicKey:
		return ed25519.SignatureSize, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// EstimateSize returns an upper estimate of the DER size of a signature made
// by id with digest. It sizes the placeholder reserved in the document.
func EstimateSize(id *credential.Identity, digest crypto.Hash) int {
	if digest == 0 {
		digest = crypto.SHA256
	}

	// Content digest, ESS certificate hash and algorithm identifiers.
	size := envelopeOverhead + 3*digest.Size()
	if id == nil || len(id.Chain) == 0 {
		return size + unknownSignatureSize
	}
	for _, c := range id.Chain {
		size += len(c.Raw)
	}

	sig, err := rawSignatureSize(id.Leaf().PublicKey)
	if err != nil {
		sig = unknownSignatureSize
	}
	return size + sig
}
