package credential

import (
	"crypto/x509"
	"encoding/asn1"
	"time"

	"github.com/digitorus/htmlpdfsign/keystore"
)

var (
	oidAdobeAuthenticDocuments  = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 5}
	oidMicrosoftDocumentSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 10, 3, 12}
	oidDocumentSigning          = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 36}
)

// documentSigningEKUs are the extended key usages accepted for signing.
var documentSigningEKUs = []x509.ExtKeyUsage{
	x509.ExtKeyUsageEmailProtection,
	x509.ExtKeyUsageCodeSigning,
	x509.ExtKeyUsageAny,
}

var documentSigningOIDs = []asn1.ObjectIdentifier{
	oidAdobeAuthenticDocuments,
	oidMicrosoftDocumentSigning,
	oidDocumentSigning,
}

func checkValidity(alias string, cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return &InvalidCredentialError{
			Alias: alias,
			Msg:   "certificate is not valid before " + cert.NotBefore.UTC().Format(time.RFC3339),
		}
	}
	if now.After(cert.NotAfter) {
		return &InvalidCredentialError{
			Alias: alias,
			Msg:   "certificate expired at " + cert.NotAfter.UTC().Format(time.RFC3339),
		}
	}
	return nil
}

// checkUsage validates Key Usage and Extended Key Usage for document
// signing. Absent extensions place no restriction.
func checkUsage(alias string, cert *x509.Certificate) []*PolicyWarning {
	var warnings []*PolicyWarning

	if cert.KeyUsage != 0 &&
		cert.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment) == 0 {
		warnings = append(warnings, &PolicyWarning{
			Alias: alias,
			Msg:   "certificate key usage allows neither digital signature nor non-repudiation",
		})
	}

	if len(cert.ExtKeyUsage) == 0 && len(cert.UnknownExtKeyUsage) == 0 {
		return warnings
	}
	if !hasDocumentSigningEKU(cert) {
		warnings = append(warnings, &PolicyWarning{
			Alias: alias,
			Msg:   "certificate extended key usage does not cover document signing",
		})
	}

	return warnings
}

func hasDocumentSigningEKU(cert *x509.Certificate) bool {
	for _, eku := range cert.ExtKeyUsage {
		for _, allowed := range documentSigningEKUs {
			if eku == allowed {
				return true
			}
		}
	}
	for _, oid := range cert.UnknownExtKeyUsage {
		for _, allowed := range documentSigningOIDs {
			if oid.Equal(allowed) {
				return true
			}
		}
	}
	return false
}

// Check reports how an entry fares against the signing policy at now
// without selecting it. It is used to list a keystore.
func Check(e keystore.Entry, now time.Time) (invalid error, warnings []*PolicyWarning) {
	leaf := e.Leaf()
	if leaf == nil {
		return nil, nil
	}
	return checkValidity(e.Alias, leaf, now), checkUsage(e.Alias, leaf)
}
