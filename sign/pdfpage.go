package sign

import (
	"bytes"
	"fmt"

	"github.com/digitorus/pdf"
)

// letter is the page size used when the document has no pages to copy from.
var letter = [4]float64{0, 0, 612, 792}

// readPageTree locates the page tree root and the MediaBox for the new page.
func (context *SignContext) readPageTree() error {
	root := context.PDFReader.Trailer().Key("Root")
	pages := root.Key("Pages")
	if pages.Kind() != pdf.Dict || !isReference(pages, context.trailer.root.ID) {
		return malformed("document catalog has no indirect /Pages", nil)
	}
	context.pages = refOf(pages)

	context.mediaBox = letter
	if context.PDFReader.NumPage() > 0 {
		if box, ok := mediaBoxOf(context.PDFReader.Page(1).V); ok {
			context.mediaBox = box
		}
	}
	return nil
}

// mediaBoxOf returns the MediaBox of page, following inheritance through the
// page tree.
func mediaBoxOf(page pdf.Value) ([4]float64, bool) {
	for depth := 0; depth < maxValueDepth && page.Kind() == pdf.Dict; depth++ {
		box := page.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			var r [4]float64
			for i := range r {
				r[i] = box.Index(i).Float64()
			}
			if r[2] > r[0] && r[3] > r[1] {
				return r, true
			}
		}
		page = page.Key("Parent")
	}
	return [4]float64{}, false
}

// writePage appends the page carrying the signature widget.
func (context *SignContext) writePage() error {
	var b bytes.Buffer
	b.WriteString("<< /Type /Page")
	fmt.Fprintf(&b, " /Parent %d %d R", context.pages.ID, context.pages.Generation)
	b.WriteString(" /MediaBox " + formatRect(context.mediaBox))
	b.WriteString(" /Resources << >>")
	fmt.Fprintf(&b, " /Annots [%d 0 R]", context.fieldID)
	b.WriteString(" >>")

	if _, err := context.writeObject(context.pageID, 0, b.Bytes()); err != nil {
		return fmt.Errorf("failed to add page: %w", err)
	}
	return nil
}

// writePages writes a new revision of the page tree root with the new page
// appended to /Kids.
func (context *SignContext) writePages() error {
	pages := context.PDFReader.Trailer().Key("Root").Key("Pages")
	kids := pages.Key("Kids")

	var b bytes.Buffer
	b.WriteString("<<")
	writeDictEntries(&b, pages, "Kids", "Count")

	b.WriteString(" /Kids [")
	for i := 0; i < kids.Len(); i++ {
		writeValue(&b, kids.Index(i), context.pages.ID)
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%d 0 R]", context.pageID)
	fmt.Fprintf(&b, " /Count %d", pages.Key("Count").Int64()+1)
	b.WriteString(" >>")

	if _, err := context.writeObject(context.pages.ID, context.pages.Generation, b.Bytes()); err != nil {
		return fmt.Errorf("failed to update page tree: %w", err)
	}
	return nil
}
