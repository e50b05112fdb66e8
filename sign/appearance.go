package sign

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/text/encoding/charmap"
)

const (
	appearancePadding = 4.0
	maxFontSize       = 10.0
	lineSpacing       = 1.25
)

// Helvetica is not embedded, so text is measured with Go Regular, whose
// advance widths are close enough to place lines inside the widget.
var metrics struct {
	once sync.Once
	mu   sync.Mutex
	face font.Face
	err  error
}

// textWidth returns the width of s in text space units (1/1000 em).
func textWidth(s string) (float64, error) {
	metrics.once.Do(func() {
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			metrics.err = err
			return
		}
		metrics.face, metrics.err = opentype.NewFace(f, &opentype.FaceOptions{
			Size:    1000,
			DPI:     72,
			Hinting: font.HintingNone,
		})
	})
	if metrics.err != nil {
		return 0, metrics.err
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	return float64(font.MeasureString(metrics.face, s)) / 64, nil
}

// winAnsi encodes s for the WinAnsiEncoding of the standard font. Characters
// outside the encoding become '?'.
func winAnsi(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

func (context *SignContext) appearanceLines() []string {
	placeholder := context.SignData.Placeholder

	signer := context.SignData.Appearance.Signer
	if signer == "" {
		signer = placeholder.Name
	}

	lines := []string{"Digitally signed by " + signer}
	if placeholder.Reason != "" {
		lines = append(lines, "Reason: "+placeholder.Reason)
	}
	if placeholder.Location != "" {
		lines = append(lines, "Location: "+placeholder.Location)
	}
	lines = append(lines, "Date: "+placeholder.Date.Format("2006-01-02 15:04:05 -07:00"))
	return lines
}

// fitFontSize returns the largest size, up to maxFontSize, at which all lines
// fit the box.
func fitFontSize(lines []string, width, height float64) (float64, error) {
	size := maxFontSize

	if byHeight := (height - 2*appearancePadding) / (float64(len(lines)) * lineSpacing); byHeight < size {
		size = byHeight
	}
	for _, line := range lines {
		w, err := textWidth(line)
		if err != nil {
			return 0, err
		}
		if w == 0 {
			continue
		}
		if byWidth := (width - 2*appearancePadding) * 1000 / w; byWidth < size {
			size = byWidth
		}
	}
	if size < 1 {
		size = 1
	}
	return size, nil
}

func (context *SignContext) createAppearance(rect [4]float64) ([]byte, error) {
	rectWidth := rect[2] - rect[0]
	rectHeight := rect[3] - rect[1]

	lines := context.appearanceLines()
	fontSize, err := fitFontSize(lines, rectWidth, rectHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to measure appearance text: %w", err)
	}

	var stream bytes.Buffer

	// Border
	stream.WriteString("q\n")
	stream.WriteString("0.2 0.2 0.6 RG 0.8 w\n")
	fmt.Fprintf(&stream, "0.4 0.4 %s %s re S\n", formatNumber(round2(rectWidth-0.8)), formatNumber(round2(rectHeight-0.8)))
	stream.WriteString("Q\n")

	stream.WriteString("q\n")
	stream.WriteString("BT\n")
	fmt.Fprintf(&stream, "/Helv %s Tf\n", formatNumber(round2(fontSize)))
	stream.WriteString("0.2 0.2 0.6 rg\n") // ballpoint-like colour
	fmt.Fprintf(&stream, "%s TL\n", formatNumber(round2(fontSize*lineSpacing)))
	fmt.Fprintf(&stream, "%s %s Td\n", formatNumber(appearancePadding), formatNumber(round2(rectHeight-appearancePadding-fontSize)))
	for i, line := range lines {
		if i > 0 {
			stream.WriteString("T*\n")
		}
		fmt.Fprintf(&stream, "%s Tj\n", pdfHexString(winAnsi(line)))
	}
	stream.WriteString("ET\n")
	stream.WriteString("Q\n")

	var appearance bytes.Buffer
	writeAppearanceHeader(&appearance, rectWidth, rectHeight)

	appearance.WriteString("  /Resources <<\n")
	fmt.Fprintf(&appearance, "   /Font << /Helv %d 0 R >>\n", context.fontID)
	appearance.WriteString("  >>\n")

	writeFormTypeAndLength(&appearance, stream.Len())
	writeBufferStream(&appearance, stream.Bytes())

	return appearance.Bytes(), nil
}

func (context *SignContext) writeAppearance() error {
	appearance, err := context.createAppearance(context.widgetRect)
	if err != nil {
		return err
	}
	if _, err := context.writeObject(context.appearanceID, 0, appearance); err != nil {
		return fmt.Errorf("failed to add appearance: %w", err)
	}
	return nil
}

// writeAppearanceHeader writes the header for the appearance stream.
//
// Should be closed by writeFormTypeAndLength.
func writeAppearanceHeader(buffer *bytes.Buffer, rectWidth, rectHeight float64) {
	buffer.WriteString("<<\n")
	buffer.WriteString("  /Type /XObject\n")
	buffer.WriteString("  /Subtype /Form\n")
	fmt.Fprintf(buffer, "  /BBox [0 0 %s %s]\n", formatNumber(rectWidth), formatNumber(rectHeight))
	buffer.WriteString("  /Matrix [1 0 0 1 0 0]\n") // No scaling or translation
}

func writeFormTypeAndLength(buffer *bytes.Buffer, streamLength int) {
	buffer.WriteString("  /FormType 1\n")
	fmt.Fprintf(buffer, "  /Length %d\n", streamLength)
	buffer.WriteString(">>\n")
}

func writeBufferStream(buffer *bytes.Buffer, stream []byte) {
	buffer.WriteString("stream\n")
	buffer.Write(stream)
	buffer.WriteString("endstream")
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
