// Package credential picks the signing identity out of a loaded keystore.
//
// Selection never caches: every call inspects the keystore again and builds
// a fresh Identity, so concurrent signing operations sharing one keystore do
// not share state.
package credential

import (
	"crypto"
	"crypto/x509"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/digitorus/htmlpdfsign/keystore"
)

// Store is the read-only view of a keystore used for selection.
type Store interface {
	Aliases() []string
	Entry(alias string) (keystore.Entry, bool)
}

// Options configure Select.
type Options struct {
	// PreferredAlias pins the entry to sign with. When it is missing or has
	// no key, selection falls back to enumerating all aliases.
	PreferredAlias string

	// Strict turns usage warnings into rejections.
	Strict bool

	Now    func() time.Time
	Logger *zap.Logger
}

// Identity is the credential chosen for a single signing operation.
type Identity struct {
	Alias    string
	Signer   crypto.Signer
	Chain    []*x509.Certificate
	Warnings []*PolicyWarning
}

// Leaf returns the signing certificate.
func (id *Identity) Leaf() *x509.Certificate {
	return id.Chain[0]
}

// Select returns the first keystore entry that passes the signing policy.
func Select(ks Store, opts Options) (*Identity, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	candidates := candidateAliases(ks, opts.PreferredAlias, log)
	if len(candidates) == 0 {
		return nil, &NoUsableCredentialError{Aliases: ks.Aliases()}
	}

	at := now()
	var firstErr error
	for _, alias := range candidates {
		entry, _ := ks.Entry(alias)

		id, err := evaluate(entry, at, opts.Strict, log)
		if err != nil {
			log.Warn("rejected signing credential", zap.String("alias", alias), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		log.Debug("selected signing credential",
			zap.String("alias", id.Alias),
			zap.String("subject", id.Leaf().Subject.String()),
			zap.Int("chain", len(id.Chain)),
		)
		return id, nil
	}

	return nil, firstErr
}

func candidateAliases(ks Store, preferred string, log *zap.Logger) []string {
	if preferred != "" {
		if alias, ok := lookup(ks, preferred); ok {
			return []string{alias}
		}
		log.Warn("preferred alias not usable, searching keystore", zap.String("alias", preferred))
	}

	var aliases []string
	for _, alias := range ks.Aliases() {
		if e, ok := ks.Entry(alias); ok && usable(e) {
			aliases = append(aliases, alias)
		}
	}
	return aliases
}

// lookup resolves alias case-insensitively since JKS stores lowercase
// aliases. An exact match wins over a case-folded one.
func lookup(ks Store, alias string) (string, bool) {
	if e, ok := ks.Entry(alias); ok && usable(e) {
		return alias, true
	}
	for _, a := range ks.Aliases() {
		if !strings.EqualFold(a, alias) {
			continue
		}
		if e, ok := ks.Entry(a); ok && usable(e) {
			return a, true
		}
	}
	return "", false
}

func usable(e keystore.Entry) bool {
	return e.PrivateKey != nil && len(e.Chain) > 0
}

func evaluate(e keystore.Entry, now time.Time, strict bool, log *zap.Logger) (*Identity, error) {
	leaf := e.Leaf()

	if err := checkValidity(e.Alias, leaf, now); err != nil {
		return nil, err
	}

	warnings := checkUsage(e.Alias, leaf)
	if len(warnings) > 0 && strict {
		return nil, warnings[0]
	}
	for _, w := range warnings {
		log.Warn("signing credential policy warning", zap.String("alias", w.Alias), zap.String("reason", w.Msg))
	}

	return &Identity{
		Alias:    e.Alias,
		Signer:   e.PrivateKey,
		Chain:    e.Chain,
		Warnings: warnings,
	}, nil
}
