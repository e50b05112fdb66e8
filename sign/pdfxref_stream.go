package sign

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
)

// Field widths of the xref stream rows for type and generation. The offset
// width depends on the largest offset.
const (
	xrefTypeWidth       = 1
	xrefGenerationWidth = 2
	minXrefOffsetWidth  = 4
)

// writeXrefStream writes the cross-reference stream to the output buffer.
// The stream is an object itself and lists its own offset.
func (context *SignContext) writeXrefStream() error {
	streamID := context.pageID + 1
	context.entries = append(context.entries, xrefEntry{ID: streamID, Offset: context.NewXrefStart})

	var maxOffset int64
	for _, entry := range context.entries {
		maxOffset = max(maxOffset, entry.Offset)
	}
	offsetWidth := xrefOffsetWidth(maxOffset)

	var rows bytes.Buffer
	var index bytes.Buffer
	for _, group := range context.subsections() {
		fmt.Fprintf(&index, " %d %d", group[0].ID, len(group))
		for _, entry := range group {
			writeXrefStreamLine(&rows, 1, entry.Offset, offsetWidth, entry.Generation)
		}
	}

	streamBytes, err := encodeXrefStream(rows.Bytes())
	if err != nil {
		return fmt.Errorf("failed to encode xref stream: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("<< /Type /XRef")
	fmt.Fprintf(&b, " /W [%d %d %d]", xrefTypeWidth, offsetWidth, xrefGenerationWidth)
	fmt.Fprintf(&b, " /Index [%s ]", index.String())
	context.writeTrailerDict(&b, context.size())
	b.WriteString(" /Filter /FlateDecode")
	fmt.Fprintf(&b, " /Length %d >>\nstream\n", len(streamBytes))
	b.Write(streamBytes)
	b.WriteString("\nendstream")

	// The entry was recorded above, so write the object by hand.
	header := fmt.Sprintf("%d 0 obj\n", streamID)
	if _, err := context.OutputBuffer.Write([]byte(header)); err != nil {
		return fmt.Errorf("failed to write xref stream: %w", err)
	}
	if _, err := context.OutputBuffer.Write(b.Bytes()); err != nil {
		return fmt.Errorf("failed to write xref stream: %w", err)
	}
	if _, err := context.OutputBuffer.Write([]byte("\nendobj\n")); err != nil {
		return fmt.Errorf("failed to write xref stream: %w", err)
	}
	return nil
}

func encodeXrefStream(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// xrefOffsetWidth returns the number of bytes needed to store offset, at
// least minXrefOffsetWidth.
func xrefOffsetWidth(offset int64) int {
	width := minXrefOffsetWidth
	for width < 8 && offset>>(8*width) != 0 {
		width++
	}
	return width
}

// writeXrefStreamLine writes a single row in the xref stream with the offset
// as a big-endian number of width bytes.
func writeXrefStreamLine(b *bytes.Buffer, xreftype byte, offset int64, width, generation int) {
	b.WriteByte(xreftype)

	var offsetBytes [8]byte
	binary.BigEndian.PutUint64(offsetBytes[:], uint64(offset))
	b.Write(offsetBytes[8-width:])

	var genBytes [2]byte
	binary.BigEndian.PutUint16(genBytes[:], uint16(generation))
	b.Write(genBytes[:])
}
