package sign

import (
	"bytes"
	"fmt"

	"github.com/digitorus/pdf"
)

const defaultAppearance = "/Helv 0 Tf 0 g"

// writeCatalog writes a new revision of the document catalog under its
// existing object number, with the signature field added to the AcroForm.
func (context *SignContext) writeCatalog() error {
	root := context.PDFReader.Trailer().Key("Root")
	acroForm := root.Key("AcroForm")

	var b bytes.Buffer
	b.WriteString("<<")
	writeDictEntries(&b, root, "AcroForm")

	b.WriteString(" /AcroForm <<")
	writeDictEntries(&b, acroForm, "Fields", "SigFlags", "DA", "DR")

	// Existing fields keep their order, the new one goes last.
	fields := acroForm.Key("Fields")
	b.WriteString(" /Fields [")
	for i := 0; i < fields.Len(); i++ {
		writeValue(&b, fields.Index(i), fields.GetPtr().GetID())
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%d 0 R]", context.fieldID)

	// Signature flags (Table 225)
	//
	// Bit position 1: SignaturesExist
	// If set, the document contains at least one signature field.
	//
	// Bit position 2: AppendOnly
	// If set, the document contains signatures that may be invalidated
	// if the PDF file is saved in a way that alters its previous
	// contents, as opposed to an incremental update.
	fmt.Fprintf(&b, " /SigFlags %d", acroForm.Key("SigFlags").Int64()|3)

	if da := acroForm.Key("DA"); da.Kind() == pdf.String {
		b.WriteString(" /DA ")
		writeValue(&b, da, acroForm.GetPtr().GetID())
	} else {
		b.WriteString(" /DA " + pdfString(defaultAppearance))
	}

	// Default resources gain Helvetica under /Helv, other entries are kept.
	dr := acroForm.Key("DR")
	b.WriteString(" /DR <<")
	writeDictEntries(&b, dr, "Font")
	b.WriteString(" /Font <<")
	writeDictEntries(&b, dr.Key("Font"), "Helv")
	fmt.Fprintf(&b, " /Helv %d 0 R >> >>", context.fontID)

	b.WriteString(" >>") // AcroForm
	b.WriteString(" >>")

	if _, err := context.writeObject(context.trailer.root.ID, context.trailer.root.Generation, b.Bytes()); err != nil {
		return fmt.Errorf("failed to update catalog: %w", err)
	}
	return nil
}
