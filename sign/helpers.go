package sign

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// pdfString encodes text as a PDF text string: a literal string for ASCII,
// UTF-16BE with byte order mark otherwise.
func pdfString(text string) string {
	if !isASCII(text) {
		enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
		res, _, err := transform.String(enc, text)
		if err == nil {
			return pdfHexString([]byte(res))
		}
	}

	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, ")", "\\)")
	text = strings.ReplaceAll(text, "(", "\\(")
	text = strings.ReplaceAll(text, "\r", "\\r")
	return "(" + text + ")"
}

func pdfHexString(b []byte) string {
	return "<" + strings.ToUpper(hex.EncodeToString(b)) + ">"
}

// pdfName writes a name object, escaping characters outside the regular
// character set with #xx.
func pdfName(name string) string {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x21 || c > 0x7E || strings.IndexByte("#()<>[]{}/%", c) >= 0 {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func pdfDateTime(date time.Time) string {
	// Calculate timezone offset from GMT.
	_, originalOffset := date.Zone()
	offset := originalOffset
	if offset < 0 {
		offset = -offset
	}

	offsetDuration := time.Duration(offset) * time.Second
	offsetHours := int(math.Floor(offsetDuration.Hours()))
	offsetMinutes := int(math.Floor(offsetDuration.Minutes())) - offsetHours*60

	dateString := "D:" + date.Format("20060102150405")

	// PDF writes the zone as +HH'mm', which time.Format cannot produce.
	if originalOffset < 0 {
		dateString += "-"
	} else {
		dateString += "+"
	}

	hours := strconv.Itoa(offsetHours)
	minutes := strconv.Itoa(offsetMinutes)
	dateString += leftPad(hours, "0", 2-len(hours)) + "'" + leftPad(minutes, "0", 2-len(minutes)) + "'"

	return pdfString(dateString)
}

func leftPad(s string, padStr string, pLen int) string {
	if pLen <= 0 {
		return s
	}
	return strings.Repeat(padStr, pLen) + s
}

// formatNumber writes a real without exponent and trailing zeros.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatRect(r [4]float64) string {
	return fmt.Sprintf("[%s %s %s %s]", formatNumber(r[0]), formatNumber(r[1]), formatNumber(r[2]), formatNumber(r[3]))
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > '\u007F' {
			return false
		}
	}
	return true
}
