package sign

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestXrefStreamLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		offset int64
		width  int
		want   string
	}{
		{0, 4, "01" + "00000000" + "0000"},
		{0x1234, 4, "01" + "00001234" + "0000"},
		{0xFFFFFFFF, 4, "01" + "ffffffff" + "0000"},
		{0x1_0000_0000, 5, "01" + "0100000000" + "0000"},
		{0x12_3456_789A, 5, "01" + "123456789a" + "0000"},
		{0x0100_0000_0000_0000, 8, "01" + "0100000000000000" + "0000"},
	}

	for _, tt := range tests {
		if got := xrefOffsetWidth(tt.offset); got != tt.width {
			t.Errorf("xrefOffsetWidth(%#x) = %d, want %d", tt.offset, got, tt.width)
		}

		var b bytes.Buffer
		writeXrefStreamLine(&b, 1, tt.offset, tt.width, 0)
		if got := hex.EncodeToString(b.Bytes()); got != tt.want {
			t.Errorf("writeXrefStreamLine(%#x) = %s, want %s", tt.offset, got, tt.want)
		}
	}
}

func TestXrefStreamLineGeneration(t *testing.T) {
	t.Parallel()

	var b bytes.Buffer
	writeXrefStreamLine(&b, 1, 10, minXrefOffsetWidth, 3)
	if got, want := hex.EncodeToString(b.Bytes()), "01"+"0000000a"+"0003"; got != want {
		t.Errorf("row = %s, want %s", got, want)
	}
}
