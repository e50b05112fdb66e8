package sign_test

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/digitorus/pdf"

	"github.com/digitorus/htmlpdfsign/cms"
	"github.com/digitorus/htmlpdfsign/credential"
	"github.com/digitorus/htmlpdfsign/internal/testpdf"
	"github.com/digitorus/htmlpdfsign/internal/testpki"
	"github.com/digitorus/htmlpdfsign/sign"
)

func newSigner(t *testing.T) (sign.SignFunc, *x509.CertPool) {
	t.Helper()

	pki := testpki.NewTestPKI(t)
	key, leaf := pki.IssueLeaf("Document Signer")
	id := &credential.Identity{
		Alias:  "signer",
		Signer: key,
		Chain:  append([]*x509.Certificate{leaf}, pki.Chain()...),
	}
	return func(ctx context.Context, content io.Reader) ([]byte, error) {
		return cms.Sign(content, id, cms.Options{})
	}, pki.Roots()
}

func signData(signer sign.SignFunc) sign.SignData {
	return sign.SignData{
		Placeholder: sign.SignaturePlaceholder{
			Name:        "Document Signer",
			Location:    "Amsterdam",
			Reason:      "Approval",
			ContactInfo: "signer@example.com",
			Date:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Signer: signer,
	}
}

func openPDF(t *testing.T, data []byte) *pdf.Reader {
	t.Helper()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("pdf.NewReader() error = %v", err)
	}
	return r
}

func TestEmbedRoundTrip(t *testing.T) {
	t.Parallel()

	signer, roots := newSigner(t)

	tests := []struct {
		name string
		opts testpdf.Options
	}{
		{"xref table", testpdf.Options{}},
		{"xref stream", testpdf.Options{XrefStream: true}},
		{"several pages", testpdf.Options{Pages: 3, MediaBox: [4]float64{0, 0, 612, 792}}},
		{"existing form", testpdf.Options{FieldName: "Comments"}},
		{"existing form in xref stream", testpdf.Options{XrefStream: true, FieldName: "Comments"}},
		{"info dictionary", testpdf.Options{Info: true}},
		{"no identifier", testpdf.Options{NoID: true}},
		{"no trailing newline", testpdf.Options{NoTrailingEOL: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			input := testpdf.New(tt.opts)
			inputCopy := bytes.Clone(input)

			out, err := sign.EmbedBytes(context.Background(), input, signData(signer))
			if err != nil {
				t.Fatalf("EmbedBytes() error = %v", err)
			}

			if !bytes.Equal(input, inputCopy) {
				t.Fatal("EmbedBytes() modified its input")
			}
			if !bytes.HasPrefix(out, input) {
				t.Fatal("signed document does not start with the original bytes")
			}

			sigs, err := testpdf.Signatures(out)
			if err != nil {
				t.Fatalf("Signatures() error = %v", err)
			}
			if len(sigs) != 1 {
				t.Fatalf("found %d signatures, want 1", len(sigs))
			}
			sig := sigs[0]

			br := sig.ByteRange
			if br[0] != 0 {
				t.Errorf("ByteRange[0] = %d, want 0", br[0])
			}
			if br[1] <= int64(len(input)) {
				t.Errorf("signature placeholder at %d lies inside the original %d bytes", br[1], len(input))
			}
			if br[2]+br[3] != int64(len(out)) {
				t.Errorf("byte range ends at %d, document is %d bytes", br[2]+br[3], len(out))
			}
			if got := br[2] - br[1] - 2; got != int64(2*sig.Reserved) {
				t.Errorf("placeholder holds %d hex digits, want %d", got, 2*sig.Reserved)
			}
			if sig.Reserved != 2*sign.DefaultSignatureSize {
				t.Errorf("reserved %d bytes, want %d", sig.Reserved, 2*sign.DefaultSignatureSize)
			}

			if _, err := sig.Verify(out, roots); err != nil {
				t.Errorf("Verify() error = %v", err)
			}

			r := openPDF(t, out)
			wantPages := tt.opts.Pages
			if wantPages == 0 {
				wantPages = 1
			}
			if r.NumPage() != wantPages+1 {
				t.Errorf("NumPage() = %d, want %d", r.NumPage(), wantPages+1)
			}

			form := r.Trailer().Key("Root").Key("AcroForm")
			if form.Key("SigFlags").Int64() != 3 {
				t.Errorf("SigFlags = %d, want 3", form.Key("SigFlags").Int64())
			}
			fields := form.Key("Fields")
			wantFields := 1
			if tt.opts.FieldName != "" {
				wantFields = 2
				if got := fields.Index(0).Key("T").Text(); got != tt.opts.FieldName {
					t.Errorf("first field = %q, want %q", got, tt.opts.FieldName)
				}
			}
			if fields.Len() != wantFields {
				t.Fatalf("AcroForm has %d fields, want %d", fields.Len(), wantFields)
			}

			field := fields.Index(fields.Len() - 1)
			if field.Key("FT").Name() != "Sig" {
				t.Errorf("field type = %q, want Sig", field.Key("FT").Name())
			}
			if field.Key("T").Text() != "Signature"+strconv.Itoa(wantFields) {
				t.Errorf("field name = %q", field.Key("T").Text())
			}
			if field.Key("AP").Key("N").Kind() != pdf.Stream {
				t.Error("widget has no normal appearance stream")
			}

			v := field.Key("V")
			if v.Key("Filter").Name() != sign.DefaultFilter || v.Key("SubFilter").Name() != sign.DefaultSubFilter {
				t.Errorf("filter = %s/%s", v.Key("Filter").Name(), v.Key("SubFilter").Name())
			}

			page := r.Page(r.NumPage())
			if page.V.Key("Annots").Len() != 1 {
				t.Errorf("signature page has %d annotations, want 1", page.V.Key("Annots").Len())
			}
			wantBox := tt.opts.MediaBox
			if wantBox == ([4]float64{}) {
				wantBox = [4]float64{0, 0, 595, 842}
			}
			box := page.V.Key("MediaBox")
			for i := range wantBox {
				if box.Index(i).Float64() != wantBox[i] {
					t.Errorf("MediaBox[%d] = %v, want %v", i, box.Index(i).Float64(), wantBox[i])
				}
			}
		})
	}
}

func TestEmbedSignedContent(t *testing.T) {
	t.Parallel()

	var signed []byte
	signer := func(ctx context.Context, content io.Reader) ([]byte, error) {
		var err error
		signed, err = io.ReadAll(content)
		if err != nil {
			return nil, err
		}
		// Any DER value will do.
		return []byte{0x30, 0x03, 0x02, 0x01, 0x01}, nil
	}

	out, err := sign.EmbedBytes(context.Background(), testpdf.New(testpdf.Options{}), signData(signer))
	if err != nil {
		t.Fatalf("EmbedBytes() error = %v", err)
	}

	sigs, err := testpdf.Signatures(out)
	if err != nil {
		t.Fatalf("Signatures() error = %v", err)
	}
	if !bytes.Equal(signed, sigs[0].SignedContent(out)) {
		t.Error("signer did not receive exactly the bytes named by /ByteRange")
	}
	if int64(len(signed))+sigs[0].ByteRange[2]-sigs[0].ByteRange[1] != int64(len(out)) {
		t.Error("byte ranges and placeholder do not cover the document")
	}
}

func TestEmbedResign(t *testing.T) {
	t.Parallel()

	for _, xrefStream := range []bool{false, true} {
		input := testpdf.New(testpdf.Options{XrefStream: xrefStream})

		firstSigner, firstRoots := newSigner(t)
		once, err := sign.EmbedBytes(context.Background(), input, signData(firstSigner))
		if err != nil {
			t.Fatalf("first EmbedBytes() error = %v", err)
		}

		secondSigner, secondRoots := newSigner(t)
		twice, err := sign.EmbedBytes(context.Background(), once, signData(secondSigner))
		if err != nil {
			t.Fatalf("second EmbedBytes() error = %v", err)
		}
		if !bytes.HasPrefix(twice, once) {
			t.Fatal("second signature rewrote the first revision")
		}

		sigs, err := testpdf.Signatures(twice)
		if err != nil {
			t.Fatalf("Signatures() error = %v", err)
		}
		if len(sigs) != 2 {
			t.Fatalf("found %d signatures, want 2", len(sigs))
		}
		if _, err := sigs[0].Verify(twice, firstRoots); err != nil {
			t.Errorf("first signature no longer verifies: %v", err)
		}
		if _, err := sigs[1].Verify(twice, secondRoots); err != nil {
			t.Errorf("second signature does not verify: %v", err)
		}
		if end := sigs[0].ByteRange[2] + sigs[0].ByteRange[3]; end != int64(len(once)) {
			t.Errorf("first signature covers %d bytes, want %d", end, len(once))
		}

		r := openPDF(t, twice)
		fields := r.Trailer().Key("Root").Key("AcroForm").Key("Fields")
		if fields.Len() != 2 {
			t.Fatalf("AcroForm has %d fields, want 2", fields.Len())
		}
		if a, b := fields.Index(0).Key("T").Text(), fields.Index(1).Key("T").Text(); a != "Signature1" || b != "Signature2" {
			t.Errorf("field names = %q, %q", a, b)
		}
		if r.NumPage() != 3 {
			t.Errorf("NumPage() = %d, want 3", r.NumPage())
		}
	}
}

func TestEmbedPlaceholderMetadata(t *testing.T) {
	t.Parallel()

	signer, _ := newSigner(t)
	data := signData(signer)
	data.Placeholder.Name = "Zoë Signer"
	data.Appearance.Rect = [4]float64{100, 100, 400, 180}

	out, err := sign.EmbedBytes(context.Background(), testpdf.New(testpdf.Options{}), data)
	if err != nil {
		t.Fatalf("EmbedBytes() error = %v", err)
	}

	r := openPDF(t, out)
	field := r.Trailer().Key("Root").Key("AcroForm").Key("Fields").Index(0)
	v := field.Key("V")

	for key, want := range map[string]string{
		"Name":        "Zoë Signer",
		"Location":    "Amsterdam",
		"Reason":      "Approval",
		"ContactInfo": "signer@example.com",
		"M":           "D:20240301120000+00'00'",
	} {
		if got := v.Key(key).Text(); got != want {
			t.Errorf("/%s = %q, want %q", key, got, want)
		}
	}

	rect := field.Key("Rect")
	for i, want := range data.Appearance.Rect {
		if got := rect.Index(i).Float64(); got != want {
			t.Errorf("Rect[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestEmbedSignatureTooLarge(t *testing.T) {
	t.Parallel()

	data := signData(func(ctx context.Context, content io.Reader) ([]byte, error) {
		return bytes.Repeat([]byte{0x01}, 64), nil
	})
	data.Placeholder.ReservedSize = 32

	var out bytes.Buffer
	input := testpdf.New(testpdf.Options{})
	err := sign.Embed(context.Background(), bytes.NewReader(input), int64(len(input)), &out, data)

	if !errors.Is(err, sign.ErrSignatureTooLarge) {
		t.Fatalf("Embed() error = %v, want ErrSignatureTooLarge", err)
	}
	var me *sign.MalformedDocumentError
	if !errors.As(err, &me) {
		t.Errorf("Embed() error = %T, want *MalformedDocumentError", err)
	}
	if out.Len() != 0 {
		t.Errorf("Embed() wrote %d bytes after failing", out.Len())
	}
}

func TestEmbedErrors(t *testing.T) {
	t.Parallel()

	errSigner := errors.New("token removed")
	failing := func(ctx context.Context, content io.Reader) ([]byte, error) {
		return nil, errSigner
	}
	valid := testpdf.New(testpdf.Options{})

	tests := []struct {
		name      string
		input     []byte
		signer    sign.SignFunc
		target    error
		malformed bool
	}{
		{"signer error is returned unchanged", valid, failing, errSigner, false},
		{"no signer", valid, nil, sign.ErrNoSigner, false},
		{"not a pdf", []byte("<html>hello</html>"), failing, nil, true},
		{"truncated", valid[:len(valid)/2], failing, nil, true},
		{"empty", nil, failing, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			err := sign.Embed(context.Background(), bytes.NewReader(tt.input), int64(len(tt.input)), &out, signData(tt.signer))
			if err == nil {
				t.Fatal("Embed() succeeded")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Embed() error = %v, want %v", err, tt.target)
			}
			var me *sign.MalformedDocumentError
			if errors.As(err, &me) != tt.malformed {
				t.Errorf("Embed() error = %v, malformed = %v", err, tt.malformed)
			}
			if out.Len() != 0 {
				t.Errorf("Embed() wrote %d bytes after failing", out.Len())
			}
		})
	}
}

func TestEmbedContextCanceled(t *testing.T) {
	t.Parallel()

	called := false
	data := signData(func(ctx context.Context, content io.Reader) ([]byte, error) {
		called = true
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sign.EmbedBytes(ctx, testpdf.New(testpdf.Options{}), data)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("EmbedBytes() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("signer was called after cancellation")
	}
}

func BenchmarkEmbed(b *testing.B) {
	input := testpdf.New(testpdf.Options{Pages: 10})
	data := signData(func(ctx context.Context, content io.Reader) ([]byte, error) {
		_, err := io.Copy(io.Discard, content)
		return []byte{0x30, 0x00}, err
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sign.EmbedBytes(context.Background(), input, data); err != nil {
			b.Fatal(err)
		}
	}
}
