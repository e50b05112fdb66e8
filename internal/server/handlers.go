package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/digitorus/htmlpdfsign"
	"github.com/digitorus/htmlpdfsign/htmldoc"
)

// HTTPError is the JSON body of a failed request.
type HTTPError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// POST /v1/sign
func (s *Server) sign(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	signed, info, err := s.signer.SignBytes(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writePDF(w, signed, info, filename(r, "document"))
}

// POST /v1/render
func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var base *url.URL
	if raw := r.URL.Query().Get("base"); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			writeJSONError(w, &HTTPError{Code: "bad_request", Message: "invalid base url", Status: http.StatusBadRequest})
			return
		}
		base = u
	}

	src, err := charset.NewReader(bytes.NewReader(body), r.Header.Get("Content-Type"))
	if err != nil {
		writeJSONError(w, &HTTPError{Code: "bad_request", Message: err.Error(), Status: http.StatusBadRequest})
		return
	}
	doc, err := htmldoc.Parse(src, base)
	if err != nil {
		writeJSONError(w, &HTTPError{Code: "bad_request", Message: err.Error(), Status: http.StatusBadRequest})
		return
	}

	var out bytes.Buffer
	info, err := s.signer.RenderAndSign(r.Context(), doc, &out)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writePDF(w, out.Bytes(), info, filename(r, "document"))
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, &HTTPError{
				Code:    "too_large",
				Message: "request body exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes",
				Status:  http.StatusRequestEntityTooLarge,
			})
			return nil, false
		}
		writeJSONError(w, &HTTPError{Code: htmlpdfsign.KindIO, Message: err.Error(), Status: http.StatusBadRequest})
		return nil, false
	}
	if len(body) == 0 {
		writeJSONError(w, &HTTPError{Code: "bad_request", Message: "empty request body", Status: http.StatusBadRequest})
		return nil, false
	}
	return body, true
}

// filename derives the attachment name from the name query parameter.
func filename(r *http.Request, fallback string) string {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" || strings.ContainsAny(name, `/\`) {
		name = fallback
	}
	return filepath.Base(htmlpdfsign.OutputPath("", name))
}

func writePDF(w http.ResponseWriter, data []byte, info *htmlpdfsign.SignatureInfo, name string) {
	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if info != nil {
		h.Set("X-Signature-Alias", info.Alias)
		h.Set("X-Signature-Signer", info.SignerName)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// statusOf maps an error kind to the response status.
func statusOf(kind string) int {
	switch kind {
	case htmlpdfsign.KindMalformedDocument:
		return http.StatusUnprocessableEntity
	case htmlpdfsign.KindKeystoreLoad,
		htmlpdfsign.KindNoUsableCredential,
		htmlpdfsign.KindInvalidCredential,
		htmlpdfsign.KindCredentialPolicyWarning:
		return http.StatusServiceUnavailable
	case htmlpdfsign.KindIO:
		return http.StatusBadRequest
	case htmlpdfsign.KindTimeout:
		return http.StatusGatewayTimeout
	case htmlpdfsign.KindCanceled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := htmlpdfsign.Kind(err)
	status := statusOf(kind)

	log := s.log.With(zap.String("request_id", middleware.GetReqID(r.Context())), zap.String("kind", kind), zap.Error(err))
	if status >= http.StatusInternalServerError {
		log.Error("signing request failed")
	} else {
		log.Warn("signing request rejected")
	}

	writeJSONError(w, &HTTPError{Code: kind, Message: err.Error(), Status: status})
}

func writeJSONError(w http.ResponseWriter, e *HTTPError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}
