// Package server exposes signing over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/digitorus/htmlpdfsign"
	"github.com/digitorus/htmlpdfsign/htmldoc"
	"github.com/digitorus/htmlpdfsign/internal/logger"
	"github.com/digitorus/htmlpdfsign/internal/metrics"
)

// Signer is the part of htmlpdfsign.Signer the service uses.
type Signer interface {
	SignBytes(ctx context.Context, input []byte) ([]byte, *htmlpdfsign.SignatureInfo, error)
	RenderAndSign(ctx context.Context, doc *htmldoc.Document, output io.Writer) (*htmlpdfsign.SignatureInfo, error)
}

var _ Signer = (*htmlpdfsign.Signer)(nil)

// Server routes signing requests to a Signer.
type Server struct {
	signer  Signer
	metrics *metrics.Metrics
	log     *zap.Logger

	// MaxBodySize limits request bodies.
	MaxBodySize int64
}

// New returns a Server. m may be nil, in which case /metrics is not served.
func New(signer Signer, m *metrics.Metrics, log *zap.Logger) *Server {
	return &Server{
		signer:      signer,
		metrics:     m,
		log:         logger.OrNop(log),
		MaxBodySize: htmldoc.MaxDocumentSize,
	}
}

// Handler returns the routes of the service.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware(routePattern))
	r.Use(s.logRequests)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sign", s.sign)
		r.Post("/render", s.render)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// routePattern labels metrics by the matched route rather than the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
