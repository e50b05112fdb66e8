package keystore

import (
	"bytes"
	"crypto"
	"crypto/x509"
)

// OrderChain returns chain with chain[0] kept as the end-entity certificate,
// followed by its issuers in path order. Certificates that are not part of
// the issuer path are appended at the end in their original order.
func OrderChain(chain []*x509.Certificate) []*x509.Certificate {
	if len(chain) < 2 {
		return chain
	}

	rest := chain[1:]
	path := issuerPath(chain[0], rest)

	out := make([]*x509.Certificate, 0, len(chain))
	out = append(out, chain[0])
	out = append(out, path...)

	onPath := make(map[*x509.Certificate]bool, len(path))
	for _, c := range path {
		onPath[c] = true
	}
	for _, c := range rest {
		if !onPath[c] {
			out = append(out, c)
		}
	}
	return out
}

// issuerPath walks from cert towards a self-signed root using pool.
func issuerPath(cert *x509.Certificate, pool []*x509.Certificate) []*x509.Certificate {
	var path []*x509.Certificate
	used := make(map[*x509.Certificate]bool)

	for cur := cert; !isSelfSigned(cur); {
		next := findIssuer(cur, pool, used)
		if next == nil {
			break
		}
		used[next] = true
		path = append(path, next)
		cur = next
	}
	return path
}

func findIssuer(cert *x509.Certificate, pool []*x509.Certificate, used map[*x509.Certificate]bool) *x509.Certificate {
	for _, c := range pool {
		if used[c] || c == cert {
			continue
		}
		if !bytes.Equal(c.RawSubject, cert.RawIssuer) {
			continue
		}
		if cert.CheckSignatureFrom(c) == nil {
			return c
		}
	}
	return nil
}

func isSelfSigned(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawIssuer, cert.RawSubject)
}

func publicKeyMatches(key crypto.Signer, cert *x509.Certificate) bool {
	pub, ok := key.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return pub.Equal(cert.PublicKey)
}
