// Package testpki builds throwaway certificate hierarchies and keystores for
// tests.
package testpki

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"log"
	"math/big"
	"testing"
	"time"

	jks "github.com/pavlo-v-chernykh/keystore-go/v4"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// KeyProfile defines the cryptographic settings for the PKI.
type KeyProfile string

const (
	RSA_2048   KeyProfile = "RSA_2048"
	RSA_3072   KeyProfile = "RSA_3072"
	ECDSA_P256 KeyProfile = "ECDSA_P256"
	ECDSA_P384 KeyProfile = "ECDSA_P384"
)

// OIDDocumentSigning is the RFC 9336 document signing extended key usage.
var OIDDocumentSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 36}

type TestPKIConfig struct {
	Profile         KeyProfile
	IntermediateCAs int
}

// TestPKI manages a temporary PKI hierarchy for testing.
type TestPKI struct {
	T                 testing.TB
	RootKey           crypto.Signer
	RootCert          *x509.Certificate
	IntermediateKeys  []crypto.Signer
	IntermediateCerts []*x509.Certificate
	Profile           KeyProfile
}

// NewTestPKI creates a root and one intermediate CA using P-256 keys.
func NewTestPKI(t testing.TB) *TestPKI {
	return NewTestPKIWithConfig(t, TestPKIConfig{
		Profile:         ECDSA_P256,
		IntermediateCAs: 1,
	})
}

// NewTestPKIWithConfig allows detailed configuration of the PKI.
func NewTestPKIWithConfig(t testing.TB, config TestPKIConfig) *TestPKI {
	rootKey := GenerateKey(t, config.Profile)

	rootTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "HTML PDF Sign Test Root CA",
			Organization: []string{"HTML PDF Sign Test Org"},
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          []byte{1, 2, 3, 4},
	}

	rootBytes, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, rootKey.Public(), rootKey)
	if err != nil {
		Fail(t, "failed to create root cert: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootBytes)
	if err != nil {
		Fail(t, "failed to parse root cert: %v", err)
	}

	var intermediateKeys []crypto.Signer
	var intermediateCerts []*x509.Certificate

	parentKey := rootKey
	parentCert := rootCert

	for i := 0; i < config.IntermediateCAs; i++ {
		key := GenerateKey(t, config.Profile)
		template := &x509.Certificate{
			SerialNumber: big.NewInt(int64(i + 2)),
			Subject: pkix.Name{
				CommonName:   fmt.Sprintf("HTML PDF Sign Test Intermediate CA %d", i+1),
				Organization: []string{"HTML PDF Sign Test Org"},
			},
			NotBefore:             time.Now().Add(-24 * time.Hour),
			NotAfter:              time.Now().Add(24 * time.Hour),
			KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
			BasicConstraintsValid: true,
			IsCA:                  true,
			SubjectKeyId:          []byte{5, 6, 7, 8, byte(i)},
			AuthorityKeyId:        parentCert.SubjectKeyId,
		}

		certBytes, err := x509.CreateCertificate(rand.Reader, template, parentCert, key.Public(), parentKey)
		if err != nil {
			Fail(t, "failed to create intermediate cert %d: %v", i, err)
		}
		cert, err := x509.ParseCertificate(certBytes)
		if err != nil {
			Fail(t, "failed to parse intermediate cert %d: %v", i, err)
		}

		intermediateKeys = append(intermediateKeys, key)
		intermediateCerts = append(intermediateCerts, cert)

		parentKey = key
		parentCert = cert
	}

	return &TestPKI{
		T:                 t,
		RootKey:           rootKey,
		RootCert:          rootCert,
		IntermediateKeys:  intermediateKeys,
		IntermediateCerts: intermediateCerts,
		Profile:           config.Profile,
	}
}

// LeafOption adjusts the template used by IssueLeaf.
type LeafOption func(*x509.Certificate)

// WithValidity sets the validity window of the leaf.
func WithValidity(notBefore, notAfter time.Time) LeafOption {
	return func(c *x509.Certificate) {
		c.NotBefore = notBefore
		c.NotAfter = notAfter
	}
}

// WithKeyUsage replaces the key usage bits. Zero omits the extension.
func WithKeyUsage(ku x509.KeyUsage) LeafOption {
	return func(c *x509.Certificate) {
		c.KeyUsage = ku
	}
}

// WithExtKeyUsage replaces the extended key usages of the leaf. Calling it
// without arguments omits the extension.
func WithExtKeyUsage(eku ...x509.ExtKeyUsage) LeafOption {
	return func(c *x509.Certificate) {
		c.ExtKeyUsage = eku
		c.UnknownExtKeyUsage = nil
	}
}

// WithUnknownExtKeyUsage replaces the extended key usages with raw OIDs.
func WithUnknownExtKeyUsage(oids ...asn1.ObjectIdentifier) LeafOption {
	return func(c *x509.Certificate) {
		c.ExtKeyUsage = nil
		c.UnknownExtKeyUsage = oids
	}
}

// IssueLeaf generates a document signing certificate issued by the last CA
// in the hierarchy. By default it is valid for an hour on either side of
// now and carries digitalSignature and the document signing EKU.
func (p *TestPKI) IssueLeaf(commonName string, opts ...LeafOption) (crypto.Signer, *x509.Certificate) {
	priv := GenerateKey(p.T, p.Profile)

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"HTML PDF Sign Test Org"},
		},
		NotBefore:          time.Now().Add(-1 * time.Hour),
		NotAfter:           time.Now().Add(1 * time.Hour),
		KeyUsage:           x509.KeyUsageDigitalSignature,
		UnknownExtKeyUsage: []asn1.ObjectIdentifier{OIDDocumentSigning},
	}
	for _, opt := range opts {
		opt(template)
	}

	issuerCert, issuerKey := p.issuer()

	certBytes, err := x509.CreateCertificate(rand.Reader, template, issuerCert, priv.Public(), issuerKey)
	if err != nil {
		Fail(p.T, "failed to issue leaf cert: %v", err)
	}

	leafCert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		Fail(p.T, "failed to parse leaf cert: %v", err)
	}

	return priv, leafCert
}

func (p *TestPKI) issuer() (*x509.Certificate, crypto.Signer) {
	if n := len(p.IntermediateCerts); n > 0 {
		return p.IntermediateCerts[n-1], p.IntermediateKeys[n-1]
	}
	return p.RootCert, p.RootKey
}

// Chain returns the issuing certificates of a leaf (Intermediate -> Root).
func (p *TestPKI) Chain() []*x509.Certificate {
	var chain []*x509.Certificate
	for i := len(p.IntermediateCerts) - 1; i >= 0; i-- {
		chain = append(chain, p.IntermediateCerts[i])
	}
	chain = append(chain, p.RootCert)
	return chain
}

// Roots returns a pool holding only the root certificate.
func (p *TestPKI) Roots() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(p.RootCert)
	return pool
}

// EncodePKCS12 wraps a key and its chain into a password protected PKCS#12
// container.
func (p *TestPKI) EncodePKCS12(key crypto.Signer, leaf *x509.Certificate, password string) []byte {
	pfx, err := pkcs12.Modern.Encode(key, leaf, p.Chain(), password)
	if err != nil {
		Fail(p.T, "failed to encode pkcs12: %v", err)
	}
	return pfx
}

// JKSEntry describes one alias of a generated Java KeyStore. Entries
// without a key become trusted certificate entries holding Chain[0].
type JKSEntry struct {
	Alias string
	Key   crypto.Signer
	Chain []*x509.Certificate
}

// EncodeJKS builds a Java KeyStore in which the store password also protects
// every key entry.
func EncodeJKS(t testing.TB, password string, entries ...JKSEntry) []byte {
	ks := jks.New()
	created := time.Now()

	for _, e := range entries {
		if e.Key == nil {
			err := ks.SetTrustedCertificateEntry(e.Alias, jks.TrustedCertificateEntry{
				CreationTime: created,
				Certificate:  jks.Certificate{Type: "X.509", Content: e.Chain[0].Raw},
			})
			if err != nil {
				Fail(t, "failed to set trusted entry %s: %v", e.Alias, err)
			}
			continue
		}

		pkcs8Key, err := x509.MarshalPKCS8PrivateKey(e.Key)
		if err != nil {
			Fail(t, "failed to marshal key for %s: %v", e.Alias, err)
		}
		chain := make([]jks.Certificate, 0, len(e.Chain))
		for _, c := range e.Chain {
			chain = append(chain, jks.Certificate{Type: "X.509", Content: c.Raw})
		}
		err = ks.SetPrivateKeyEntry(e.Alias, jks.PrivateKeyEntry{
			CreationTime:     created,
			PrivateKey:       pkcs8Key,
			CertificateChain: chain,
		}, []byte(password))
		if err != nil {
			Fail(t, "failed to set key entry %s: %v", e.Alias, err)
		}
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		Fail(t, "failed to store jks: %v", err)
	}
	return buf.Bytes()
}

func Fail(t testing.TB, format string, args ...interface{}) {
	if t != nil {
		t.Fatalf(format, args...)
	} else {
		log.Fatalf(format, args...)
	}
}

func GenerateKey(t testing.TB, profile KeyProfile) crypto.Signer {
	switch profile {
	case RSA_2048:
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			Fail(t, "failed to generate RSA 2048 key: %v", err)
		}
		return k
	case RSA_3072:
		k, err := rsa.GenerateKey(rand.Reader, 3072)
		if err != nil {
			Fail(t, "failed to generate RSA 3072 key: %v", err)
		}
		return k
	case ECDSA_P256:
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			Fail(t, "failed to generate P-256 key: %v", err)
		}
		return k
	case ECDSA_P384:
		k, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			Fail(t, "failed to generate P-384 key: %v", err)
		}
		return k
	default:
		Fail(t, "unknown key profile: %s", profile)
		return nil
	}
}
