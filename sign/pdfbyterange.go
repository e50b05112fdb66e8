package sign

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

func (context *SignContext) updateByteRange() error {
	size := int64(context.OutputBuffer.Buff.Len())

	// Signature ByteRange part 1 start byte is always byte 0.
	context.ByteRangeValues[0] = 0

	// Part 1 stops right before the '<' of /Contents.
	context.ByteRangeValues[1] = context.contentsStart

	// Part 2 starts right after the closing '>'.
	context.ByteRangeValues[2] = context.contentsEnd

	// Part 2 length is everything else of the file.
	context.ByteRangeValues[3] = size - context.contentsEnd

	newByteRange := fmt.Sprintf("/ByteRange[%d %d %d %d]", context.ByteRangeValues[0], context.ByteRangeValues[1], context.ByteRangeValues[2], context.ByteRangeValues[3])
	if len(newByteRange) > len(signatureByteRangePlaceholder) {
		return malformed("byte range does not fit its placeholder", nil)
	}

	// Make sure our ByteRange string didn't shrink in length.
	newByteRange += strings.Repeat(" ", len(signatureByteRangePlaceholder)-len(newByteRange))

	copy(context.OutputBuffer.Buff.Bytes()[context.byteRangeStart:], newByteRange)
	return nil
}

// signedContent streams the two byte ranges covered by the signature.
func (context *SignContext) signedContent() io.Reader {
	r := bytes.NewReader(context.OutputBuffer.Buff.Bytes())
	return io.MultiReader(
		io.NewSectionReader(r, context.ByteRangeValues[0], context.ByteRangeValues[1]),
		io.NewSectionReader(r, context.ByteRangeValues[2], context.ByteRangeValues[3]),
	)
}
