// Package sign appends a visible, CMS signed signature to a PDF as an
// incremental update. Bytes of the original document are never rewritten.
package sign

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
	"go.uber.org/zap"
)

// Embed reads size bytes of input, adds a signature page, field and
// signature, and writes the complete signed document to output. Nothing is
// written to output unless every step succeeds.
func Embed(ctx context.Context, input io.ReadSeeker, size int64, output io.Writer, data SignData) error {
	if _, err := input.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind input: %w", err)
	}

	// Leave room for the incremental update so the original is copied once.
	reserved := int64(hex.EncodedLen(data.Placeholder.reservedSize())) + 16*1024
	buf := filebuffer.New(make([]byte, 0, size+reserved))
	if _, err := io.CopyN(buf, input, size); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	signed, err := embed(ctx, buf, size, data)
	if err != nil {
		return err
	}

	if _, err := output.Write(signed); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// EmbedBytes is Embed for a document held in memory. input is not modified.
func EmbedBytes(ctx context.Context, input []byte, data SignData) ([]byte, error) {
	var out bytes.Buffer
	if err := Embed(ctx, bytes.NewReader(input), int64(len(input)), &out, data); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func embed(ctx context.Context, buf *filebuffer.Buffer, size int64, data SignData) (out []byte, err error) {
	if data.Signer == nil {
		return nil, ErrNoSigner
	}

	// The reader panics on some damaged documents.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, malformed(fmt.Sprintf("damaged document: %v", r), nil)
		}
	}()

	original := buf.Buff.Bytes()[:size]
	rdr, err := pdf.NewReader(bytes.NewReader(original), size)
	if err != nil {
		if bytes.Contains(original[max(0, len(original)-4096):], []byte("/Encrypt")) {
			return nil, malformed("open document", ErrEncrypted)
		}
		return nil, malformed("open document", err)
	}

	context := &SignContext{
		SignData:     data,
		PDFReader:    rdr,
		OutputBuffer: buf,
		InputSize:    size,
	}
	if err := context.SignPDF(ctx); err != nil {
		return nil, err
	}
	return context.OutputBuffer.Buff.Bytes(), nil
}

func (p SignaturePlaceholder) reservedSize() int {
	if p.ReservedSize > 0 {
		return p.ReservedSize
	}
	return 2 * DefaultSignatureSize
}

func (context *SignContext) applyDefaults() {
	placeholder := &context.SignData.Placeholder
	if placeholder.Filter == "" {
		placeholder.Filter = DefaultFilter
	}
	if placeholder.SubFilter == "" {
		placeholder.SubFilter = DefaultSubFilter
	}
	if placeholder.Date.IsZero() {
		placeholder.Date = time.Now()
	}
	placeholder.ReservedSize = placeholder.reservedSize()

	context.log = context.SignData.Logger
	if context.log == nil {
		context.log = zap.NewNop()
	}
}

// SignPDF runs the embedding steps over the copied document in OutputBuffer.
func (context *SignContext) SignPDF(ctx context.Context) error {
	context.applyDefaults()

	// Preparation
	if err := context.readTrailer(context.OutputBuffer.Buff.Bytes()[:context.InputSize]); err != nil {
		return err
	}
	if err := context.readPageTree(); err != nil {
		return err
	}
	context.allocateIDs()
	context.chooseFieldName()
	context.widgetRect = context.placeWidget()
	if w, h := context.widgetRect[2]-context.widgetRect[0], context.widgetRect[3]-context.widgetRect[1]; w < 1 || h < 1 {
		return fmt.Errorf("invalid rectangle dimensions: width %.2f and height %.2f must be at least 1", w, h)
	}

	context.log.Debug("preparing incremental update",
		zap.Int64("size", context.InputSize),
		zap.Bool("xref_stream", context.xrefStream),
		zap.Uint32("next_object", context.nextID),
		zap.String("field", context.fieldName),
	)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Objects must start on a new line.
	if original := context.OutputBuffer.Buff.Bytes(); len(original) > 0 && original[len(original)-1] != '\n' && original[len(original)-1] != '\r' {
		if _, err := context.OutputBuffer.Write([]byte("\n")); err != nil {
			return err
		}
	}

	// Reservation
	if err := context.writeSignatureObject(); err != nil {
		return malformed("write signature dictionary", err)
	}

	steps := []func() error{
		context.writeFont,
		context.writeAppearance,
		context.writeVisualSignature,
		context.writePage,
		context.writePages,
		context.writeCatalog,
		context.writeXref,
		context.writeTrailer,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return malformed("write incremental update", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Byte range
	if err := context.updateByteRange(); err != nil {
		return err
	}

	// Signing
	signature, err := context.SignData.Signer(ctx, context.signedContent())
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Commit
	if err := context.replaceSignature(signature); err != nil {
		return err
	}

	context.log.Debug("signature embedded",
		zap.Int("signature_bytes", len(signature)),
		zap.Int("reserved_bytes", context.SignData.Placeholder.ReservedSize),
		zap.Int64s("byte_range", context.ByteRangeValues[:]),
	)
	return nil
}
