package cms_test

import (
	"crypto"
	"crypto/x509"
	"errors"
	"strings"
	"testing"

	"github.com/digitorus/htmlpdfsign/cms"
	"github.com/digitorus/htmlpdfsign/credential"
	"github.com/digitorus/htmlpdfsign/internal/testpki"
)

func TestEstimateSizeBoundsSignature(t *testing.T) {
	t.Parallel()

	tests := []struct {
		profile testpki.KeyProfile
		digest  crypto.Hash
	}{
		{testpki.RSA_2048, crypto.SHA256},
		{testpki.RSA_3072, crypto.SHA512},
		{testpki.ECDSA_P256, crypto.SHA256},
		{testpki.ECDSA_P384, crypto.SHA384},
	}

	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			t.Parallel()

			_, id := identity(t, tt.profile)
			der, err := cms.Sign(strings.NewReader("content"), id, cms.Options{Digest: tt.digest})
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}

			estimate := cms.EstimateSize(id, tt.digest)
			if estimate < len(der) {
				t.Errorf("EstimateSize() = %d, smaller than the %d byte signature", estimate, len(der))
			}
			if estimate > 2*len(der) {
				t.Errorf("EstimateSize() = %d, more than twice the %d byte signature", estimate, len(der))
			}
		})
	}
}

func TestEstimateSizeGrowsWithChain(t *testing.T) {
	t.Parallel()

	pki, id := identity(t, testpki.ECDSA_P256)
	base := cms.EstimateSize(id, 0)
	if got := cms.EstimateSize(id, crypto.SHA256); got != base {
		t.Errorf("zero digest estimate %d differs from SHA-256 estimate %d", base, got)
	}

	longer := &credential.Identity{
		Signer: id.Signer,
		Chain:  append(append([]*x509.Certificate{}, id.Chain...), pki.IntermediateCerts[0], pki.IntermediateCerts[0]),
	}
	if got, want := cms.EstimateSize(longer, 0), base+2*len(pki.IntermediateCerts[0].Raw); got != want {
		t.Errorf("EstimateSize() with two more certificates = %d, want %d", got, want)
	}

	if got := cms.EstimateSize(id, crypto.SHA512); got <= base {
		t.Errorf("SHA-512 estimate %d not above SHA-256 estimate %d", got, base)
	}
	if cms.EstimateSize(nil, 0) <= 0 {
		t.Error("EstimateSize(nil) is not positive")
	}
}

func TestIdentityKeyChecks(t *testing.T) {
	t.Parallel()

	_, rsaID := identity(t, testpki.RSA_2048)
	_, ecID := identity(t, testpki.ECDSA_P256)

	tests := []struct {
		name string
		id   *credential.Identity
		want error
	}{
		{"rsa", rsaID, nil},
		{"ecdsa", ecID, nil},
		{"rsa key with ecdsa certificate", &credential.Identity{Alias: "mixed", Signer: rsaID.Signer, Chain: ecID.Chain}, cms.ErrKeyMismatch},
		{"other ecdsa key", &credential.Identity{Alias: "other", Signer: testpki.GenerateKey(t, testpki.ECDSA_P256), Chain: ecID.Chain}, cms.ErrKeyMismatch},
		{"empty chain", &credential.Identity{Signer: ecID.Signer}, cms.ErrNoCertificate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := cms.Sign(strings.NewReader("content"), tt.id, cms.Options{})
			if tt.want == nil {
				if err != nil {
					t.Errorf("Sign() error = %v", err)
				}
				return
			}

			var se *cms.SigningError
			if !errors.As(err, &se) || !errors.Is(err, tt.want) {
				t.Errorf("Sign() error = %v, want *SigningError wrapping %v", err, tt.want)
			}
			if tt.id.Alias != "" && !strings.Contains(err.Error(), tt.id.Alias) {
				t.Errorf("error %q does not name the credential", err)
			}
		})
	}
}
