package sign

import (
	"bytes"
	"fmt"
)

// writeXrefTable writes the incremental cross-reference table to the output buffer.
func (context *SignContext) writeXrefTable() error {
	var b bytes.Buffer
	b.WriteString("xref\n")

	for _, group := range context.subsections() {
		fmt.Fprintf(&b, "%d %d\n", group[0].ID, len(group))
		for _, entry := range group {
			// Each entry is exactly 20 bytes including the two byte EOL.
			fmt.Fprintf(&b, "%010d %05d n\r\n", entry.Offset, entry.Generation)
		}
	}

	if _, err := context.OutputBuffer.Write(b.Bytes()); err != nil {
		return fmt.Errorf("failed to write incremental xref table: %w", err)
	}
	return nil
}
