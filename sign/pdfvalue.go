package sign

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"

	"github.com/digitorus/pdf"
)

const maxValueDepth = 32

// isReference reports whether v was reached through an indirect reference
// from an object with id parent.
func isReference(v pdf.Value, parent uint32) bool {
	id := v.GetPtr().GetID()
	return id != 0 && id != parent
}

func writeReference(b *bytes.Buffer, v pdf.Value) {
	ptr := v.GetPtr()
	fmt.Fprintf(b, "%d %d R", ptr.GetID(), ptr.GetGen())
}

// writeValue serializes v as it appears inside the object with id parent.
// Values living in other objects are written as references, so copying a
// dictionary never duplicates the objects it points to.
func writeValue(b *bytes.Buffer, v pdf.Value, parent uint32) {
	writeValueDepth(b, v, parent, 0)
}

func writeValueDepth(b *bytes.Buffer, v pdf.Value, parent uint32, depth int) {
	if depth > maxValueDepth {
		b.WriteString("null")
		return
	}
	if isReference(v, parent) {
		writeReference(b, v)
		return
	}

	switch v.Kind() {
	case pdf.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case pdf.Integer:
		b.WriteString(strconv.FormatInt(v.Int64(), 10))
	case pdf.Real:
		b.WriteString(formatNumber(v.Float64()))
	case pdf.String:
		b.WriteString(pdfHexString([]byte(v.RawString())))
	case pdf.Name:
		b.WriteString(pdfName(v.Name()))
	case pdf.Dict:
		b.WriteString("<<")
		for _, key := range v.Keys() {
			b.WriteString(pdfName(key))
			b.WriteByte(' ')
			writeValueDepth(b, v.Key(key), parent, depth+1)
		}
		b.WriteString(">>")
	case pdf.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeValueDepth(b, v.Index(i), parent, depth+1)
		}
		b.WriteByte(']')
	case pdf.Stream:
		// A stream is always an indirect object; reaching one here means the
		// reader handed out a stream without a reference.
		writeReference(b, v)
	default:
		b.WriteString("null")
	}
}

// writeDictEntries copies every entry of dict except the skipped keys.
func writeDictEntries(b *bytes.Buffer, dict pdf.Value, skip ...string) {
	parent := dict.GetPtr().GetID()
	for _, key := range dict.Keys() {
		if slices.Contains(skip, key) {
			continue
		}
		b.WriteString(" ")
		b.WriteString(pdfName(key))
		b.WriteByte(' ')
		writeValue(b, dict.Key(key), parent)
	}
}
