package sign

import (
	"bytes"
	"fmt"
	"strconv"
)

// placeWidget returns the configured rectangle, or one 200 by 50 points
// placed 50 points from the left and 92 points from the top of the page.
func (context *SignContext) placeWidget() [4]float64 {
	if r := context.SignData.Appearance.Rect; r != ([4]float64{}) {
		return r
	}
	box := context.mediaBox
	return [4]float64{box[0] + 50, box[3] - 142, box[0] + 250, box[3] - 92}
}

// chooseFieldName picks the first SignatureN not used by a top level field.
func (context *SignContext) chooseFieldName() {
	fields := context.PDFReader.Trailer().Key("Root").Key("AcroForm").Key("Fields")

	used := make(map[string]bool, fields.Len())
	for i := 0; i < fields.Len(); i++ {
		used[fields.Index(i).Key("T").Text()] = true
	}

	n := fields.Len() + 1
	for used["Signature"+strconv.Itoa(n)] {
		n++
	}
	context.fieldName = "Signature" + strconv.Itoa(n)
}

// writeVisualSignature writes the merged signature field and widget
// annotation.
func (context *SignContext) writeVisualSignature() error {
	var b bytes.Buffer
	b.WriteString("<< /Type /Annot")
	b.WriteString(" /Subtype /Widget")
	b.WriteString(" /FT /Sig")
	b.WriteString(" /T " + pdfString(context.fieldName))
	fmt.Fprintf(&b, " /V %d 0 R", context.sigID)
	fmt.Fprintf(&b, " /P %d 0 R", context.pageID)
	b.WriteString(" /Rect " + formatRect(context.widgetRect))
	b.WriteString(" /F 4") // Print
	fmt.Fprintf(&b, " /AP << /N %d 0 R >>", context.appearanceID)
	b.WriteString(" >>")

	if _, err := context.writeObject(context.fieldID, 0, b.Bytes()); err != nil {
		return fmt.Errorf("failed to add signature field: %w", err)
	}
	return nil
}

func (context *SignContext) writeFont() error {
	font := "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"
	if _, err := context.writeObject(context.fontID, 0, []byte(font)); err != nil {
		return fmt.Errorf("failed to add font: %w", err)
	}
	return nil
}
