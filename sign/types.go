package sign

import (
	"context"
	"io"
	"time"

	"github.com/digitorus/pdf"
	"github.com/mattetti/filebuffer"
	"go.uber.org/zap"
)

// DefaultSignatureSize is the signature size assumed when none is given.
// The placeholder reserves twice this amount.
const DefaultSignatureSize = 9472

const (
	DefaultFilter    = "Adobe.PPKLite"
	DefaultSubFilter = "adbe.pkcs7.detached"
)

// SignFunc produces the detached signature over content, which streams the
// two byte ranges of the prepared document.
type SignFunc func(ctx context.Context, content io.Reader) ([]byte, error)

// SignaturePlaceholder describes the signature dictionary written into the
// document.
type SignaturePlaceholder struct {
	Filter      string // name without leading slash
	SubFilter   string
	Name        string
	Location    string
	Reason      string
	ContactInfo string
	Date        time.Time

	// ReservedSize is the number of signature bytes reserved in /Contents.
	ReservedSize int
}

// Appearance controls the visible signature widget on the appended page.
type Appearance struct {
	// Rect is the widget rectangle in page space. A zero Rect places the
	// widget near the top left corner of the page.
	Rect [4]float64

	// Signer is printed after "Digitally signed by". It defaults to the
	// placeholder Name.
	Signer string
}

type SignData struct {
	Placeholder SignaturePlaceholder
	Appearance  Appearance
	Signer      SignFunc
	Logger      *zap.Logger
}

type xrefEntry struct {
	ID         uint32
	Generation int
	Offset     int64
}

type objectRef struct {
	ID         uint32
	Generation int
}

// SignContext carries the state of a single embedding run.
type SignContext struct {
	SignData SignData

	PDFReader    *pdf.Reader
	OutputBuffer *filebuffer.Buffer
	InputSize    int64

	log *zap.Logger

	prevXref   int64
	xrefStream bool
	trailer    trailerInfo
	nextID     uint32

	sigID        uint32
	fontID       uint32
	appearanceID uint32
	fieldID      uint32
	pageID       uint32
	pages        objectRef

	mediaBox   [4]float64
	widgetRect [4]float64
	fieldName  string

	entries []xrefEntry

	byteRangeStart int64
	contentsStart  int64
	contentsEnd    int64

	NewXrefStart    int64
	ByteRangeValues [4]int64
}
