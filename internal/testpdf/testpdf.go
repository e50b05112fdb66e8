// Package testpdf builds small, valid PDF documents and reads signatures back
// out of signed ones.
package testpdf

import (
	"bytes"
	"compress/zlib"
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/digitorus/pkcs7"
)

// Options shape the generated document.
type Options struct {
	// XrefStream writes a compressed cross-reference stream instead of a
	// classic table.
	XrefStream bool

	// Pages defaults to 1.
	Pages int

	// MediaBox is set on the page tree root and inherited by every page.
	// Zero means A4.
	MediaBox [4]float64

	// FieldName adds an AcroForm (as an indirect object) with one text field
	// of this name on the first page.
	FieldName string

	// Info adds a document information dictionary.
	Info bool

	// NoID omits the trailer /ID.
	NoID bool

	// NoTrailingEOL ends the file right after %%EOF.
	NoTrailingEOL bool
}

var a4 = [4]float64{0, 0, 595, 842}

type builder struct {
	objects []string
}

// add reserves the next object number.
func (b *builder) add(body string) int {
	b.objects = append(b.objects, body)
	return len(b.objects)
}

func (b *builder) set(id int, body string) {
	b.objects[id-1] = body
}

// New returns a document built from opts.
func New(opts Options) []byte {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if opts.MediaBox == ([4]float64{}) {
		opts.MediaBox = a4
	}

	var b builder
	catalog := b.add("")
	pages := b.add("")
	font := b.add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var kids []int
	for i := 0; i < opts.Pages; i++ {
		text := fmt.Sprintf("BT /F1 24 Tf 72 720 Td (Page %d) Tj ET", i+1)
		content := b.add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(text), text))
		page := b.add("")
		b.set(page, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", pages, font, content))
		kids = append(kids, page)
	}

	var kidRefs bytes.Buffer
	for i, kid := range kids {
		if i > 0 {
			kidRefs.WriteByte(' ')
		}
		fmt.Fprintf(&kidRefs, "%d 0 R", kid)
	}
	box := opts.MediaBox
	b.set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [%g %g %g %g] >>", kidRefs.String(), len(kids), box[0], box[1], box[2], box[3]))

	catalogBody := fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R", pages)
	if opts.FieldName != "" {
		field := b.add(fmt.Sprintf("<< /Type /Annot /Subtype /Widget /FT /Tx /T (%s) /Rect [72 600 272 620] /P %d 0 R /F 4 >>", opts.FieldName, kids[0]))
		form := b.add(fmt.Sprintf("<< /Fields [%d 0 R] /DA (/F1 0 Tf 0 g) /DR << /Font << /F1 %d 0 R >> >> >>", field, font))
		catalogBody += fmt.Sprintf(" /AcroForm %d 0 R", form)

		first := kids[0]
		b.set(first, fmt.Sprintf("<< /Type /Page /Parent %d 0 R /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R /Annots [%d 0 R] >>", pages, font, first-1, field))
	}
	catalogBody += " >>"
	b.set(catalog, catalogBody)

	info := 0
	if opts.Info {
		info = b.add("<< /Producer (testpdf) /Title (Test document) >>")
	}

	var out bytes.Buffer
	out.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(b.objects)+1)
	for i, body := range b.objects {
		offsets[i+1] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	trailer := fmt.Sprintf(" /Root %d 0 R", catalog)
	if info != 0 {
		trailer += fmt.Sprintf(" /Info %d 0 R", info)
	}
	if !opts.NoID {
		trailer += " /ID [<0123456789ABCDEF0123456789ABCDEF> <0123456789ABCDEF0123456789ABCDEF>]"
	}

	xrefStart := out.Len()
	if opts.XrefStream {
		writeXrefStream(&out, offsets, trailer)
	} else {
		out.WriteString("xref\n")
		fmt.Fprintf(&out, "0 %d\n", len(offsets))
		out.WriteString("0000000000 65535 f\r\n")
		for _, off := range offsets[1:] {
			fmt.Fprintf(&out, "%010d 00000 n\r\n", off)
		}
		fmt.Fprintf(&out, "trailer\n<< /Size %d%s >>\n", len(offsets), trailer)
	}

	fmt.Fprintf(&out, "startxref\n%d\n%%%%EOF", xrefStart)
	if !opts.NoTrailingEOL {
		out.WriteString("\n")
	}
	return out.Bytes()
}

// writeXrefStream appends the xref stream as the next object. offsets holds
// the free entry at index 0.
func writeXrefStream(out *bytes.Buffer, offsets []int, trailer string) {
	id := len(offsets)
	self := out.Len()

	var rows bytes.Buffer
	row := func(typ byte, off int, gen uint16) {
		rows.WriteByte(typ)
		var o [4]byte
		binary.BigEndian.PutUint32(o[:], uint32(off))
		rows.Write(o[:])
		var g [2]byte
		binary.BigEndian.PutUint16(g[:], gen)
		rows.Write(g[:])
	}
	row(0, 0, 65535)
	for _, off := range offsets[1:] {
		row(1, off, 0)
	}
	row(1, self, 0)

	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	_, _ = w.Write(rows.Bytes())
	_ = w.Close()

	fmt.Fprintf(out, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] /Index [0 %d] /Filter /FlateDecode /Length %d%s >>\nstream\n", id, id+1, id+1, z.Len(), trailer)
	out.Write(z.Bytes())
	out.WriteString("\nendstream\nendobj\n")
}

// Signature is a signature dictionary found in a document.
type Signature struct {
	ByteRange [4]int64

	// Contents is the DER signature with the zero padding removed.
	Contents []byte

	// Reserved is the number of bytes reserved for the signature.
	Reserved int
}

var byteRangeRE = regexp.MustCompile(`/ByteRange\s*\[\s*(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s*\]`)

// Signatures returns the signatures of data in file order.
func Signatures(data []byte) ([]Signature, error) {
	var sigs []Signature
	for _, m := range byteRangeRE.FindAllSubmatch(data, -1) {
		var s Signature
		for i := range s.ByteRange {
			v, err := strconv.ParseInt(string(m[i+1]), 10, 64)
			if err != nil {
				return nil, err
			}
			s.ByteRange[i] = v
		}

		start, end := s.ByteRange[1], s.ByteRange[2]
		if start < 0 || end > int64(len(data)) || end-start < 2 || data[start] != '<' || data[end-1] != '>' {
			return nil, fmt.Errorf("byte range %v does not bracket a hex string", s.ByteRange)
		}

		raw, err := hex.DecodeString(string(data[start+1 : end-1]))
		if err != nil {
			return nil, fmt.Errorf("decode contents: %w", err)
		}
		s.Reserved = len(raw)

		var v asn1.RawValue
		if _, err := asn1.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse contents: %w", err)
		}
		s.Contents = v.FullBytes
		sigs = append(sigs, s)
	}
	if len(sigs) == 0 {
		return nil, errors.New("no signatures found")
	}
	return sigs, nil
}

// SignedContent returns the bytes covered by the signature.
func (s Signature) SignedContent(data []byte) []byte {
	out := make([]byte, 0, s.ByteRange[1]+s.ByteRange[3])
	out = append(out, data[s.ByteRange[0]:s.ByteRange[0]+s.ByteRange[1]]...)
	out = append(out, data[s.ByteRange[2]:s.ByteRange[2]+s.ByteRange[3]]...)
	return out
}

// Verify checks the signature over its byte ranges of data. A nil roots only
// checks the signature value.
func (s Signature) Verify(data []byte, roots *x509.CertPool) (*pkcs7.PKCS7, error) {
	p7, err := pkcs7.Parse(s.Contents)
	if err != nil {
		return nil, err
	}
	p7.Content = s.SignedContent(data)
	if roots == nil {
		return p7, p7.Verify()
	}
	return p7, p7.VerifyWithChain(roots)
}
