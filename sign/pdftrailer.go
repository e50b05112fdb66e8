package sign

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/digitorus/pdf"
)

type trailerInfo struct {
	size int64
	root objectRef
	info objectRef
	id   [2][]byte
}

func (context *SignContext) readTrailer(original []byte) error {
	trailer := context.PDFReader.Trailer()

	if !trailer.Key("Encrypt").IsNull() {
		return malformed("read trailer", ErrEncrypted)
	}

	root := trailer.Key("Root")
	if root.Kind() != pdf.Dict || root.GetPtr().GetID() == 0 {
		return malformed("trailer does not reference a document catalog", nil)
	}
	context.trailer.root = refOf(root)

	if info := trailer.Key("Info"); info.GetPtr().GetID() != 0 {
		context.trailer.info = refOf(info)
	}

	context.trailer.size = trailer.Key("Size").Int64()
	if context.trailer.size <= 0 {
		context.trailer.size = context.PDFReader.XrefInformation.ItemCount
	}
	if context.trailer.size <= 0 {
		return malformed("trailer has no /Size", nil)
	}

	// The first identifier stays fixed across updates. Documents without one
	// get an identifier derived from their content.
	if id := trailer.Key("ID"); id.Kind() == pdf.Array && id.Len() == 2 {
		context.trailer.id[0] = []byte(id.Index(0).RawString())
		context.trailer.id[1] = []byte(id.Index(1).RawString())
	} else {
		sum := sha256.Sum256(original)
		context.trailer.id[0] = sum[:16]
		context.trailer.id[1] = sum[:16]
	}

	context.prevXref = context.PDFReader.XrefInformation.StartPos
	context.xrefStream = context.PDFReader.XrefInformation.Type == "stream"
	context.nextID = uint32(context.trailer.size)

	return nil
}

func refOf(v pdf.Value) objectRef {
	ptr := v.GetPtr()
	return objectRef{ID: ptr.GetID(), Generation: int(ptr.GetGen())}
}

// writeTrailerDict writes the entries shared by the trailer dictionary and
// the xref stream dictionary.
func (context *SignContext) writeTrailerDict(b *bytes.Buffer, size int64) {
	fmt.Fprintf(b, " /Size %d", size)
	fmt.Fprintf(b, " /Root %d %d R", context.trailer.root.ID, context.trailer.root.Generation)
	if context.trailer.info.ID != 0 {
		fmt.Fprintf(b, " /Info %d %d R", context.trailer.info.ID, context.trailer.info.Generation)
	}
	fmt.Fprintf(b, " /Prev %d", context.prevXref)
	fmt.Fprintf(b, " /ID [%s %s]", pdfHexString(context.trailer.id[0]), pdfHexString(context.trailer.id[1]))
}

func (context *SignContext) writeTrailer() error {
	var b bytes.Buffer

	if !context.xrefStream {
		b.WriteString("trailer\n<<")
		context.writeTrailerDict(&b, context.size())
		b.WriteString(" >>\n")
	}

	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", context.NewXrefStart)

	if _, err := context.OutputBuffer.Write(b.Bytes()); err != nil {
		return fmt.Errorf("failed to write trailer: %w", err)
	}
	return nil
}

// size is the /Size of the updated document, one past the highest object
// number in use.
func (context *SignContext) size() int64 {
	size := context.trailer.size
	for _, entry := range context.entries {
		if int64(entry.ID) >= size {
			size = int64(entry.ID) + 1
		}
	}
	return size
}
