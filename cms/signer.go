// Package cms produces detached CMS (PKCS#7) SignedData structures as
// embedded in PDF signature dictionaries with the adbe.pkcs7.detached
// sub-filter.
package cms

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"io"
	"strings"

	"github.com/digitorus/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/digitorus/htmlpdfsign/credential"
	"github.com/digitorus/htmlpdfsign/keystore"
)

var (
	oidSigningCertificate   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 12}
	oidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

var hashOIDs = map[crypto.Hash]asn1.ObjectIdentifier{
	crypto.SHA1:   pkcs7.OIDDigestAlgorithmSHA1,
	crypto.SHA256: pkcs7.OIDDigestAlgorithmSHA256,
	crypto.SHA384: pkcs7.OIDDigestAlgorithmSHA384,
	crypto.SHA512: pkcs7.OIDDigestAlgorithmSHA512,
}

// Options configure Sign.
type Options struct {
	// Digest defaults to SHA-256.
	Digest crypto.Hash
}

func (o Options) digest() crypto.Hash {
	if o.Digest == 0 {
		return crypto.SHA256
	}
	return o.Digest
}

// ParseDigest maps a configuration name such as "sha256" to its hash.
func ParseDigest(name string) (crypto.Hash, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "sha256":
		return crypto.SHA256, nil
	case "sha384":
		return crypto.SHA384, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported digest algorithm %q", name)
	}
}

// Sign reads content once and returns a DER encoded detached SignedData
// signed by id. The full certificate chain of id is embedded.
func Sign(content io.Reader, id *credential.Identity, opts Options) ([]byte, error) {
	if err := checkIdentity(id); err != nil {
		return nil, err
	}
	leaf := id.Leaf()

	digest := opts.digest()
	digestOID, ok := hashOIDs[digest]
	if !ok {
		return nil, &SigningError{Msg: fmt.Sprintf("unsupported digest %s", digest)}
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, &SigningError{Msg: "read content", Err: err}
	}

	signedData, err := pkcs7.NewSignedData(data)
	if err != nil {
		return nil, &SigningError{Msg: "new signed data", Err: err}
	}
	signedData.SetDigestAlgorithm(digestOID)

	signingCertificate, err := signingCertificateAttribute(leaf, digest)
	if err != nil {
		return nil, &SigningError{Msg: "signing certificate attribute", Err: err}
	}

	parents, extra := splitChain(id.Chain)

	err = signedData.AddSignerChain(leaf, id.Signer, parents, pkcs7.SignerInfoConfig{
		ExtraSignedAttributes: []pkcs7.Attribute{*signingCertificate},
	})
	if err != nil {
		return nil, &SigningError{Msg: "add signer chain", Err: err}
	}
	for _, c := range extra {
		signedData.AddCertificate(c)
	}

	// PDF signatures are detached, the content is the document itself.
	signedData.Detach()

	der, err := signedData.Finish()
	if err != nil {
		return nil, &SigningError{Msg: "finish signed data", Err: err}
	}
	return der, nil
}

// splitChain separates the issuer path of chain[0] from certificates that
// do not extend it.
func splitChain(chain []*x509.Certificate) (parents, extra []*x509.Certificate) {
	ordered := keystore.OrderChain(chain)

	cur := ordered[0]
	i := 1
	for ; i < len(ordered); i++ {
		if cur.CheckSignatureFrom(ordered[i]) != nil {
			break
		}
		cur = ordered[i]
	}
	return ordered[1:i], ordered[i:]
}

// signingCertificateAttribute builds the ESS signing-certificate(-v2)
// attribute binding the signature to leaf.
func signingCertificateAttribute(leaf *x509.Certificate, digest crypto.Hash) (*pkcs7.Attribute, error) {
	h := digest.New()
	h.Write(leaf.Raw)

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // SigningCertificate
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // []ESSCertID, []ESSCertIDv2
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // ESSCertID, ESSCertIDv2
				if digest != crypto.SHA1 && digest != crypto.SHA256 { // default SHA-256
					b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // AlgorithmIdentifier
						b.AddASN1ObjectIdentifier(hashOIDs[digest])
					})
				}
				b.AddASN1OctetString(h.Sum(nil)) // certHash
			})
		})
	})

	ess, err := b.Bytes()
	if err != nil {
		return nil, err
	}

	attr := pkcs7.Attribute{
		Type:  oidSigningCertificateV2,
		Value: asn1.RawValue{FullBytes: ess},
	}
	if digest == crypto.SHA1 {
		attr.Type = oidSigningCertificate
	}
	return &attr, nil
}
