package keystore

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	"go.uber.org/zap"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const (
	pemPrivateKey  = "PRIVATE KEY"
	pemCertificate = "CERTIFICATE"

	headerFriendlyName = "friendlyName"
	headerLocalKeyID   = "localKeyId"
)

// bagGroup collects the key and certificate bags sharing a localKeyId.
type bagGroup struct {
	id    string
	alias string
	key   crypto.Signer
	leaf  *x509.Certificate
}

func decodePKCS12(data []byte, password string, log *zap.Logger) ([]Entry, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, err
		}
		// ToPEM only understands the common two-safe layout.
		log.Debug("pkcs12 bag decoding failed, decoding as single chain", zap.Error(err))
		return decodePKCS12Chain(data, password)
	}
	return groupBags(blocks)
}

func groupBags(blocks []*pem.Block) ([]Entry, error) {
	var (
		order []*bagGroup
		byID  = make(map[string]*bagGroup)
		pool  []*x509.Certificate
	)

	group := func(id string) *bagGroup {
		if g, ok := byID[id]; ok {
			return g
		}
		g := &bagGroup{id: id}
		byID[id] = g
		order = append(order, g)
		return g
	}

	for _, block := range blocks {
		id := block.Headers[headerLocalKeyID]
		name := block.Headers[headerFriendlyName]

		switch block.Type {
		case pemPrivateKey:
			key, err := parsePrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if id == "" {
				id = fmt.Sprintf("key-%d", len(order)+1)
			}
			g := group(id)
			g.key = key
			if name != "" {
				g.alias = name
			}
		case pemCertificate:
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate bag: %w", err)
			}
			if id == "" {
				pool = append(pool, cert)
				continue
			}
			g := group(id)
			g.leaf = cert
			if g.alias == "" && name != "" {
				g.alias = name
			}
		}
	}

	entries := make([]Entry, 0, len(order))
	for _, g := range order {
		if g.key != nil && g.leaf == nil {
			for i, cert := range pool {
				if publicKeyMatches(g.key, cert) {
					g.leaf = cert
					pool = append(pool[:i], pool[i+1:]...)
					break
				}
			}
		}

		alias := g.alias
		if alias == "" {
			alias = g.id
		}

		e := Entry{Alias: alias, PrivateKey: g.key}
		if g.leaf != nil {
			e.Chain = append([]*x509.Certificate{g.leaf}, issuerPath(g.leaf, pool)...)
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func decodePKCS12Chain(data []byte, password string) ([]Entry, error) {
	key, leaf, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key of type %T cannot sign", key)
	}

	fingerprint := sha1.Sum(leaf.Raw)

	return []Entry{{
		Alias:      hex.EncodeToString(fingerprint[:]),
		PrivateKey: signer,
		Chain:      OrderChain(append([]*x509.Certificate{leaf}, caCerts...)),
	}}, nil
}

// parsePrivateKey accepts the PKCS#1 and SEC 1 encodings ToPEM emits as
// well as PKCS#8.
func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key bag: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key of type %T cannot sign", key)
	}
	return signer, nil
}
