package sign

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

const signatureByteRangePlaceholder = "/ByteRange[0 ********** ********** **********]"

// writeSignatureObject writes the signature dictionary with placeholders for
// the byte range and the signature value.
func (context *SignContext) writeSignatureObject() error {
	placeholder := context.SignData.Placeholder

	var b bytes.Buffer
	b.WriteString("<< /Type /Sig")
	b.WriteString(" /Filter " + pdfName(placeholder.Filter))
	b.WriteString(" /SubFilter " + pdfName(placeholder.SubFilter))

	b.WriteString(" ")
	byteRangeOffset := int64(b.Len())
	b.WriteString(signatureByteRangePlaceholder)

	b.WriteString(" /Contents")
	contentsOffset := int64(b.Len())
	b.WriteString("<")
	b.Write(bytes.Repeat([]byte("0"), hex.EncodedLen(placeholder.ReservedSize)))
	b.WriteString(">")

	if placeholder.Name != "" {
		b.WriteString(" /Name ")
		b.WriteString(pdfString(placeholder.Name))
	}
	if placeholder.Location != "" {
		b.WriteString(" /Location ")
		b.WriteString(pdfString(placeholder.Location))
	}
	if placeholder.Reason != "" {
		b.WriteString(" /Reason ")
		b.WriteString(pdfString(placeholder.Reason))
	}
	if placeholder.ContactInfo != "" {
		b.WriteString(" /ContactInfo ")
		b.WriteString(pdfString(placeholder.ContactInfo))
	}
	b.WriteString(" /M ")
	b.WriteString(pdfDateTime(placeholder.Date))
	b.WriteString(" >>")

	start, err := context.writeObject(context.sigID, 0, b.Bytes())
	if err != nil {
		return err
	}

	context.byteRangeStart = start + byteRangeOffset
	context.contentsStart = start + contentsOffset
	context.contentsEnd = context.contentsStart + int64(hex.EncodedLen(placeholder.ReservedSize)) + 2
	return nil
}

// replaceSignature writes the hex encoded signature into the reserved
// /Contents. The remaining digits stay zero.
func (context *SignContext) replaceSignature(signature []byte) error {
	dst := make([]byte, hex.EncodedLen(len(signature)))
	hex.Encode(dst, signature)

	reserved := context.contentsEnd - context.contentsStart - 2
	if int64(len(dst)) > reserved {
		return malformed(fmt.Sprintf("signature of %d bytes exceeds the %d bytes reserved", len(signature), reserved/2), ErrSignatureTooLarge)
	}

	copy(context.OutputBuffer.Buff.Bytes()[context.contentsStart+1:], dst)
	return nil
}
