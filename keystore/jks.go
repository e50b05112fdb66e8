package keystore

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"

	jks "github.com/pavlo-v-chernykh/keystore-go/v4"
	"go.uber.org/zap"
)

// decodeJKS decodes a Java KeyStore. The store password also unlocks the
// key entries. Entries that cannot be decoded are logged and skipped.
func decodeJKS(data []byte, password string, log *zap.Logger) ([]Entry, error) {
	ks := jks.New(jks.WithOrderedAliases())
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return nil, fmt.Errorf("load jks: %w", err)
	}

	var entries []Entry
	for _, alias := range ks.Aliases() {
		switch {
		case ks.IsPrivateKeyEntry(alias):
			e, err := jksPrivateKeyEntry(ks, alias, password)
			if err != nil {
				log.Warn("skipping keystore entry", zap.String("alias", alias), zap.Error(err))
				continue
			}
			entries = append(entries, e)
		case ks.IsTrustedCertificateEntry(alias):
			tce, err := ks.GetTrustedCertificateEntry(alias)
			if err != nil {
				log.Warn("skipping keystore entry", zap.String("alias", alias), zap.Error(err))
				continue
			}
			cert, err := x509.ParseCertificate(tce.Certificate.Content)
			if err != nil {
				log.Warn("skipping keystore entry", zap.String("alias", alias), zap.Error(err))
				continue
			}
			entries = append(entries, Entry{Alias: alias, Chain: []*x509.Certificate{cert}})
		}
	}

	return entries, nil
}

func jksPrivateKeyEntry(ks jks.KeyStore, alias, password string) (Entry, error) {
	pke, err := ks.GetPrivateKeyEntry(alias, []byte(password))
	if err != nil {
		return Entry{}, err
	}

	key, err := x509.ParsePKCS8PrivateKey(pke.PrivateKey)
	if err != nil {
		return Entry{}, fmt.Errorf("parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return Entry{}, fmt.Errorf("private key of type %T cannot sign", key)
	}

	chain := make([]*x509.Certificate, 0, len(pke.CertificateChain))
	for _, c := range pke.CertificateChain {
		cert, err := x509.ParseCertificate(c.Content)
		if err != nil {
			return Entry{}, fmt.Errorf("parse certificate chain: %w", err)
		}
		chain = append(chain, cert)
	}

	return Entry{Alias: alias, PrivateKey: signer, Chain: OrderChain(chain)}, nil
}
