package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/htmlpdfsign"
	"github.com/digitorus/htmlpdfsign/credential"
	"github.com/digitorus/htmlpdfsign/htmldoc"
	"github.com/digitorus/htmlpdfsign/internal/metrics"
	"github.com/digitorus/htmlpdfsign/internal/server"
	"github.com/digitorus/htmlpdfsign/internal/testpdf"
	"github.com/digitorus/htmlpdfsign/internal/testpki"
	"github.com/digitorus/htmlpdfsign/keystore"
	"github.com/digitorus/htmlpdfsign/render"
	"github.com/digitorus/htmlpdfsign/sign"
)

const password = "changeit"

type fixture struct {
	pki     *testpki.TestPKI
	metrics *metrics.Metrics
	handler http.Handler
}

func newFixture(t *testing.T, opts ...testpki.LeafOption) *fixture {
	t.Helper()

	pki := testpki.NewTestPKI(t)
	key, leaf := pki.IssueLeaf("Server Signer", opts...)
	ks, err := keystore.Load(bytes.NewReader(pki.EncodePKCS12(key, leaf, password)), password)
	require.NoError(t, err)

	m, err := metrics.New()
	require.NoError(t, err)

	signer := htmlpdfsign.New(ks, htmlpdfsign.Options{
		Reason:   "Approved",
		Timeout:  10 * time.Second,
		Renderer: render.FPDF{NoCompression: true},
		Metrics:  m,
	})
	return &fixture{
		pki:     pki,
		metrics: m,
		handler: server.New(signer, m, nil).Handler(),
	}
}

func (f *fixture) do(method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) server.HTTPError {
	t.Helper()
	var e server.HTTPError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func verifySigned(t *testing.T, f *fixture, data []byte) {
	t.Helper()
	sigs, err := testpdf.Signatures(data)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	_, err = sigs[0].Verify(data, f.pki.Roots())
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestSign(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	input := testpdf.New(testpdf.Options{})

	rec := f.do(http.MethodPost, "/v1/sign?name=invoice.pdf", "application/pdf", input)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=invoice-signed.pdf`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Server Signer", rec.Header().Get("X-Signature-Signer"))

	signed := rec.Body.Bytes()
	assert.True(t, bytes.HasPrefix(signed, input), "original bytes must be preserved")
	verifySigned(t, f, signed)

	metricsRec := f.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), `htmlpdfsign_signatures_total{kind="",result="ok"} 1`)
	assert.Contains(t, metricsRec.Body.String(), `htmlpdfsign_http_requests_total{method="POST",path="/v1/sign",status="200"} 1`)
}

func TestRender(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	html := []byte("<html><head><title>Invoice</title></head><body><h1>Invoice 42</h1><p>Total: 100 EUR</p></body></html>")

	rec := f.do(http.MethodPost, "/v1/render", "text/html; charset=utf-8", html)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename=document-signed.pdf`, rec.Header().Get("Content-Disposition"))

	signed := rec.Body.Bytes()
	assert.True(t, bytes.Contains(signed, []byte("(Invoice 42)")))
	verifySigned(t, f, signed)
}

func TestRequestErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name       string
		target     string
		body       []byte
		wantStatus int
		wantCode   string
	}{
		{"not a pdf", "/v1/sign", []byte("hello"), http.StatusUnprocessableEntity, htmlpdfsign.KindMalformedDocument},
		{"empty body", "/v1/sign", nil, http.StatusBadRequest, "bad_request"},
		{"empty html", "/v1/render", nil, http.StatusBadRequest, "bad_request"},
		{"bad base url", "/v1/render?base=%3A%2F%2Fx", []byte("<p>x</p>"), http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := f.do(http.MethodPost, tt.target, "", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}

	rec := f.do(http.MethodGet, "/v1/sign", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBodyTooLarge(t *testing.T) {
	t.Parallel()

	srv := server.New(stubSigner{}, nil, nil)
	srv.MaxBodySize = 16

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sign", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "too_large", decodeError(t, rec).Code)
}

func TestExpiredCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testpki.WithValidity(time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour)))

	rec := f.do(http.MethodPost, "/v1/sign", "application/pdf", testpdf.New(testpdf.Options{}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, htmlpdfsign.KindInvalidCredential, decodeError(t, rec).Code)
}

type stubSigner struct {
	err error
}

func (s stubSigner) SignBytes(context.Context, []byte) ([]byte, *htmlpdfsign.SignatureInfo, error) {
	return nil, nil, s.err
}

func (s stubSigner) RenderAndSign(context.Context, *htmldoc.Document, io.Writer) (*htmlpdfsign.SignatureInfo, error) {
	return nil, s.err
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{&sign.MalformedDocumentError{Msg: "broken"}, http.StatusUnprocessableEntity},
		{&credential.NoUsableCredentialError{}, http.StatusServiceUnavailable},
		{&credential.PolicyWarning{Alias: "a", Msg: "usage"}, http.StatusServiceUnavailable},
		{&keystore.LoadError{Msg: "bad password"}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&htmlpdfsign.RenderError{Err: errors.New("font")}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(htmlpdfsign.Kind(tt.err), func(t *testing.T) {
			t.Parallel()

			h := server.New(stubSigner{err: tt.err}, nil, nil).Handler()
			for _, target := range []string{"/v1/sign", "/v1/render"} {
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader("<p>x</p>")))
				assert.Equal(t, tt.want, rec.Code, target)
				assert.Equal(t, htmlpdfsign.Kind(tt.err), decodeError(t, rec).Code, target)
			}
		})
	}
}
