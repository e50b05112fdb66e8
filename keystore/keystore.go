// Package keystore loads private keys and certificate chains from PKCS#12
// and Java KeyStore (JKS) containers.
//
// A loaded KeyStore is immutable. It may be shared between goroutines that
// select credentials concurrently; any change to the underlying file
// requires loading it again.
package keystore

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Format identifies the container format of a keystore.
type Format int

const (
	FormatAuto Format = iota
	FormatPKCS12
	FormatJKS
)

func (f Format) String() string {
	switch f {
	case FormatPKCS12:
		return "pkcs12"
	case FormatJKS:
		return "jks"
	default:
		return "auto"
	}
}

// ParseFormat parses a format name as used in configuration files.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "pkcs12", "p12", "pfx":
		return FormatPKCS12, nil
	case "jks":
		return FormatJKS, nil
	default:
		return FormatAuto, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

const (
	jksMagic   = 0xFEEDFEED
	jceksMagic = 0xCECECECE
)

// Entry is a single keystore record. Entries without a private key are
// trusted certificate entries.
type Entry struct {
	Alias      string
	PrivateKey crypto.Signer
	Chain      []*x509.Certificate
}

// Leaf returns the end-entity certificate of the entry, or nil when the
// entry carries no certificates.
func (e Entry) Leaf() *x509.Certificate {
	if len(e.Chain) == 0 {
		return nil
	}
	return e.Chain[0]
}

// KeyStore is a loaded, read-only keystore.
type KeyStore struct {
	format  Format
	aliases []string
	entries map[string]Entry
}

// Format returns the container format the store was decoded from.
func (ks *KeyStore) Format() Format {
	return ks.format
}

// Len returns the number of entries.
func (ks *KeyStore) Len() int {
	return len(ks.aliases)
}

// Aliases returns the entry aliases in keystore iteration order.
func (ks *KeyStore) Aliases() []string {
	out := make([]string, len(ks.aliases))
	copy(out, ks.aliases)
	return out
}

// Entry returns the entry stored under alias. The returned chain is a copy;
// the certificates and key themselves are shared.
func (ks *KeyStore) Entry(alias string) (Entry, bool) {
	e, ok := ks.entries[alias]
	if !ok {
		return Entry{}, false
	}
	chain := make([]*x509.Certificate, len(e.Chain))
	copy(chain, e.Chain)
	e.Chain = chain
	return e, true
}

func (ks *KeyStore) add(e Entry) {
	alias := e.Alias
	for n := 2; ; n++ {
		if _, exists := ks.entries[alias]; !exists {
			break
		}
		alias = fmt.Sprintf("%s-%d", e.Alias, n)
	}
	e.Alias = alias
	ks.aliases = append(ks.aliases, alias)
	ks.entries[alias] = e
}

type options struct {
	format Format
	logger *zap.Logger
	path   string
}

// Option configures Load and LoadFile.
type Option func(*options)

// WithFormat forces the container format instead of detecting it.
func WithFormat(f Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithLogger sets the logger used for skipped or unreadable entries.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// LoadFile reads and decodes the keystore at path.
func LoadFile(path, password string, opts ...Option) (*KeyStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Msg: "open keystore", Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	return Load(f, password, append(opts, func(o *options) { o.path = path })...)
}

// Load decodes a keystore from r.
func Load(r io.Reader, password string, opts ...Option) (*KeyStore, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &LoadError{Path: o.path, Msg: "read keystore", Err: err}
	}
	if len(data) == 0 {
		return nil, &LoadError{Path: o.path, Msg: "keystore is empty", Err: ErrUnsupportedFormat}
	}

	format := o.format
	if format == FormatAuto {
		format, err = detectFormat(data)
		if err != nil {
			return nil, &LoadError{Path: o.path, Msg: "detect keystore format", Err: err}
		}
	}

	var entries []Entry
	switch format {
	case FormatJKS:
		entries, err = decodeJKS(data, password, o.logger)
	case FormatPKCS12:
		entries, err = decodePKCS12(data, password, o.logger)
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return nil, &LoadError{Path: o.path, Msg: "decode " + format.String() + " keystore", Err: err}
	}

	ks := &KeyStore{
		format:  format,
		entries: make(map[string]Entry, len(entries)),
	}
	for _, e := range entries {
		ks.add(e)
	}

	o.logger.Debug("keystore loaded",
		zap.String("path", o.path),
		zap.Stringer("format", format),
		zap.Strings("aliases", ks.aliases),
	)

	return ks, nil
}

func detectFormat(data []byte) (Format, error) {
	if len(data) >= 4 {
		switch binary.BigEndian.Uint32(data[:4]) {
		case jksMagic:
			return FormatJKS, nil
		case jceksMagic:
			return FormatAuto, fmt.Errorf("%w: JCEKS", ErrUnsupportedFormat)
		}
	}
	// PKCS#12 is a DER SEQUENCE.
	if data[0] == 0x30 {
		return FormatPKCS12, nil
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		return FormatAuto, fmt.Errorf("%w: PEM files are not keystores", ErrUnsupportedFormat)
	}
	return FormatAuto, ErrUnsupportedFormat
}
