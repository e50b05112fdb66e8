package htmlpdfsign_test

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/digitorus/pdf"

	"github.com/digitorus/htmlpdfsign"
	"github.com/digitorus/htmlpdfsign/htmldoc"
	"github.com/digitorus/htmlpdfsign/internal/metrics"
	"github.com/digitorus/htmlpdfsign/internal/testpdf"
	"github.com/digitorus/htmlpdfsign/internal/testpki"
	"github.com/digitorus/htmlpdfsign/keystore"
	"github.com/digitorus/htmlpdfsign/render"
	"github.com/digitorus/htmlpdfsign/sign"
)

const password = "changeit"

func chainOf(pki *testpki.TestPKI, leaf *x509.Certificate) []*x509.Certificate {
	return append([]*x509.Certificate{leaf}, pki.Chain()...)
}

// newKeyStore returns a JKS keystore with one entry per common name, aliased
// by the lower-cased name.
func newKeyStore(t *testing.T, pki *testpki.TestPKI, names ...string) *keystore.KeyStore {
	t.Helper()

	var entries []testpki.JKSEntry
	for _, name := range names {
		key, leaf := pki.IssueLeaf(name)
		entries = append(entries, testpki.JKSEntry{Alias: strings.ToLower(name), Key: key, Chain: chainOf(pki, leaf)})
	}
	ks, err := keystore.Load(bytes.NewReader(testpki.EncodeJKS(t, password, entries...)), password)
	if err != nil {
		t.Fatalf("keystore.Load() error = %v", err)
	}
	return ks
}

func verifyAll(t *testing.T, pki *testpki.TestPKI, data []byte, want int) []testpdf.Signature {
	t.Helper()

	sigs, err := testpdf.Signatures(data)
	if err != nil {
		t.Fatalf("Signatures() error = %v", err)
	}
	if len(sigs) != want {
		t.Fatalf("signatures = %d, want %d", len(sigs), want)
	}
	for i, sig := range sigs {
		if _, err := sig.Verify(data, pki.Roots()); err != nil {
			t.Errorf("signature %d: Verify() error = %v", i, err)
		}
	}
	return sigs
}

func TestSignFile(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	m, err := metrics.New()
	if err != nil {
		t.Fatal(err)
	}
	s := htmlpdfsign.New(newKeyStore(t, pki, "Alice"), htmlpdfsign.Options{
		Reason:   "Approved",
		Location: "Rotterdam",
		Metrics:  m,
	})

	dir := t.TempDir()
	in := filepath.Join(dir, "contract.pdf")
	original := testpdf.New(testpdf.Options{Pages: 2})
	if err := os.WriteFile(in, original, 0o600); err != nil {
		t.Fatal(err)
	}

	info, err := s.SignFile(context.Background(), in)
	if err != nil {
		t.Fatalf("SignFile() error = %v", err)
	}
	if want := filepath.Join(dir, "contract-signed.pdf"); info.Output != want {
		t.Errorf("Output = %q, want %q", info.Output, want)
	}
	if info.SignerName != "Alice" || info.Alias != "alice" {
		t.Errorf("signer = %q alias = %q", info.SignerName, info.Alias)
	}

	signed, err := os.ReadFile(info.Output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(signed, original) {
		t.Error("signed file does not start with the original bytes")
	}
	sigs := verifyAll(t, pki, signed, 1)
	if sigs[0].ByteRange[0] != 0 || sigs[0].ByteRange[2]+sigs[0].ByteRange[3] != int64(len(signed)) {
		t.Errorf("ByteRange %v does not cover the file", sigs[0].ByteRange)
	}
	if info.SignatureSize == 0 || info.SignatureSize > sigs[0].Reserved {
		t.Errorf("SignatureSize = %d, reserved %d", info.SignatureSize, sigs[0].Reserved)
	}

	rdr, err := pdf.NewReader(bytes.NewReader(signed), int64(len(signed)))
	if err != nil {
		t.Fatal(err)
	}
	if rdr.NumPage() != 3 {
		t.Errorf("NumPage() = %d, want 3", rdr.NumPage())
	}
	v := rdr.Trailer().Key("Root").Key("AcroForm").Key("Fields").Index(0).Key("V")
	if got := v.Key("Reason").Text(); got != "Approved" {
		t.Errorf("Reason = %q", got)
	}
	if got := v.Key("Name").Text(); got != "Alice" {
		t.Errorf("Name = %q", got)
	}

	if entries, _ := os.ReadDir(dir); len(entries) != 2 {
		t.Errorf("directory holds %d files, want input and output only", len(entries))
	}
}

func TestAliasPinning(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	ks := newKeyStore(t, pki, "A", "B")

	tests := []struct {
		alias string
		want  string
	}{
		{"b", "B"},
		{"", "A"},
		{"missing", "A"},
	}

	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			t.Parallel()

			s := htmlpdfsign.New(ks, htmlpdfsign.Options{Alias: tt.alias})
			signed, info, err := s.SignBytes(context.Background(), testpdf.New(testpdf.Options{}))
			if err != nil {
				t.Fatalf("SignBytes() error = %v", err)
			}
			if info.Certificate.Subject.CommonName != tt.want {
				t.Errorf("signed with %q, want %q", info.Certificate.Subject.CommonName, tt.want)
			}

			sigs := verifyAll(t, pki, signed, 1)
			p7, err := sigs[0].Verify(signed, pki.Roots())
			if err != nil {
				t.Fatal(err)
			}
			if got := p7.GetOnlySigner().Subject.CommonName; got != tt.want {
				t.Errorf("embedded signer = %q, want %q", got, tt.want)
			}
			if len(p7.Certificates) != 3 {
				t.Errorf("embedded certificates = %d, want the full chain of 3", len(p7.Certificates))
			}
		})
	}
}

func TestExpiredOnlyKeystore(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	key, leaf := pki.IssueLeaf("Expired", testpki.WithValidity(time.Now().Add(-72*time.Hour), time.Now().Add(-24*time.Hour)))
	ks, err := keystore.Load(bytes.NewReader(pki.EncodePKCS12(key, leaf, password)), password)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	in := filepath.Join(dir, "a.pdf")
	if err := os.WriteFile(in, testpdf.New(testpdf.Options{}), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = htmlpdfsign.New(ks, htmlpdfsign.Options{}).SignFile(context.Background(), in)
	if kind := htmlpdfsign.Kind(err); kind != htmlpdfsign.KindInvalidCredential {
		t.Fatalf("Kind() = %q, want InvalidCredential (err = %v)", kind, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a-signed.pdf")); !os.IsNotExist(err) {
		t.Errorf("output exists after failure: %v", err)
	}
}

func TestResign(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	s := htmlpdfsign.New(newKeyStore(t, pki, "Alice"), htmlpdfsign.Options{})

	for _, opts := range []testpdf.Options{{}, {XrefStream: true}} {
		once, _, err := s.SignBytes(context.Background(), testpdf.New(opts))
		if err != nil {
			t.Fatal(err)
		}
		twice, _, err := s.SignBytes(context.Background(), once)
		if err != nil {
			t.Fatalf("second SignBytes() error = %v", err)
		}
		if !bytes.HasPrefix(twice, once) {
			t.Error("re-signing rewrote bytes of the first revision")
		}
		sigs := verifyAll(t, pki, twice, 2)
		if end := sigs[0].ByteRange[2] + sigs[0].ByteRange[3]; end != int64(len(once)) {
			t.Errorf("first signature covers %d bytes, want %d", end, len(once))
		}
	}
}

func TestSignatureTooLarge(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	s := htmlpdfsign.New(newKeyStore(t, pki, "Alice"), htmlpdfsign.Options{ReservedSize: 64})

	_, _, err := s.SignBytes(context.Background(), testpdf.New(testpdf.Options{}))
	if !errors.Is(err, sign.ErrSignatureTooLarge) {
		t.Fatalf("SignBytes() error = %v, want ErrSignatureTooLarge", err)
	}
	if kind := htmlpdfsign.Kind(err); kind != htmlpdfsign.KindMalformedDocument {
		t.Errorf("Kind() = %q", kind)
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	s := htmlpdfsign.New(newKeyStore(t, pki, "Alice"), htmlpdfsign.Options{Timeout: time.Nanosecond})

	_, _, err := s.SignBytes(context.Background(), testpdf.New(testpdf.Options{}))
	if kind := htmlpdfsign.Kind(err); kind != htmlpdfsign.KindTimeout {
		t.Fatalf("Kind() = %q, want Timeout (err = %v)", kind, err)
	}
}

func TestRenderAndSign(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	s := htmlpdfsign.New(newKeyStore(t, pki, "Alice"), htmlpdfsign.Options{
		Renderer: render.FPDF{PageSize: "letter", NoCompression: true},
	})

	doc, err := htmldoc.Parse(strings.NewReader("<title>Offer</title><h1>Offer 7</h1><ul><li>One</li></ul>"), nil)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if _, err := s.RenderAndSign(context.Background(), doc, &out); err != nil {
		t.Fatalf("RenderAndSign() error = %v", err)
	}
	signed := out.Bytes()
	verifyAll(t, pki, signed, 1)

	rdr, err := pdf.NewReader(bytes.NewReader(signed), int64(len(signed)))
	if err != nil {
		t.Fatal(err)
	}
	if rdr.NumPage() != 2 {
		t.Errorf("NumPage() = %d, want rendered page plus signature page", rdr.NumPage())
	}
	if got := rdr.Trailer().Key("Info").Key("Title").Text(); got != "Offer" {
		t.Errorf("Title = %q", got)
	}
	// The signature page inherits the rendered page size.
	if got := rdr.Page(2).V.Key("MediaBox").Index(2).Float64(); got < 611 || got > 613 {
		t.Errorf("signature page width = %v, want letter", got)
	}
}

func TestRenderAndSignFile(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	s := htmlpdfsign.New(newKeyStore(t, pki, "Alice"), htmlpdfsign.Options{OutputDir: out})

	src := filepath.Join(dir, "letter.html")
	if err := os.WriteFile(src, []byte("<p>Dear reader</p>"), 0o600); err != nil {
		t.Fatal(err)
	}

	info, err := s.RenderAndSignFile(context.Background(), src)
	if err != nil {
		t.Fatalf("RenderAndSignFile() error = %v", err)
	}
	if want := filepath.Join(out, "letter-signed.pdf"); info.Output != want {
		t.Errorf("Output = %q, want %q", info.Output, want)
	}
	data, err := os.ReadFile(info.Output)
	if err != nil {
		t.Fatal(err)
	}
	verifyAll(t, pki, data, 1)

	_, err = s.RenderAndSignFile(context.Background(), filepath.Join(dir, "missing.html"))
	if kind := htmlpdfsign.Kind(err); kind != htmlpdfsign.KindIO {
		t.Errorf("missing source Kind() = %q (err = %v)", kind, err)
	}
}

func TestSignFiles(t *testing.T) {
	t.Parallel()

	pki := testpki.NewTestPKI(t)
	s := htmlpdfsign.New(newKeyStore(t, pki, "Alice"), htmlpdfsign.Options{Workers: 2})

	dir := t.TempDir()
	var inputs []string
	for i, data := range [][]byte{
		testpdf.New(testpdf.Options{}),
		[]byte("%PDF-1.7 broken"),
		testpdf.New(testpdf.Options{XrefStream: true}),
		testpdf.New(testpdf.Options{Pages: 3}),
	} {
		in := filepath.Join(dir, string(rune('a'+i))+".pdf")
		if err := os.WriteFile(in, data, 0o600); err != nil {
			t.Fatal(err)
		}
		inputs = append(inputs, in)
	}

	results, err := s.SignFiles(context.Background(), inputs)
	if err == nil {
		t.Fatal("SignFiles() error = nil, want the broken document to fail")
	}
	if kind := htmlpdfsign.Kind(err); kind != htmlpdfsign.KindMalformedDocument {
		t.Errorf("Kind() = %q", kind)
	}

	for i, r := range results {
		if r.Input != inputs[i] {
			t.Errorf("results[%d].Input = %q", i, r.Input)
		}
		if (r.Err != nil) != (i == 1) {
			t.Errorf("results[%d].Err = %v", i, r.Err)
			continue
		}
		if r.Err != nil {
			continue
		}
		data, err := os.ReadFile(r.Info.Output)
		if err != nil {
			t.Fatal(err)
		}
		verifyAll(t, pki, data, 1)
	}
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dir, input, want string
	}{
		{"", filepath.Join("docs", "invoice.pdf"), filepath.Join("docs", "invoice-signed.pdf")},
		{"out", filepath.Join("docs", "invoice.pdf"), filepath.Join("out", "invoice-signed.pdf")},
		{"", "report.final.pdf", "report.final-signed.pdf"},
		{"", "noext", "noext-signed.pdf"},
	}
	for _, tt := range tests {
		if got := htmlpdfsign.OutputPath(tt.dir, tt.input); got != tt.want {
			t.Errorf("OutputPath(%q, %q) = %q, want %q", tt.dir, tt.input, got, tt.want)
		}
	}
}
