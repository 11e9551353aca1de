package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"legal-intake-orchestrator/internal/identity"
)

func NewRouter(h *Handler, verifier identity.Verifier) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(identity.Middleware(verifier))

		r.Post("/documents", h.UploadDocument)
		r.Get("/reviews/pending", h.PendingReviews)
		r.Route("/documents/{documentId}", func(r chi.Router) {
			r.Get("/status", withDocumentID(h.GetStatus))
			r.Get("/result", withDocumentID(h.GetResult))
			r.Get("/state", withDocumentID(h.GetState))
			r.Get("/audit", withDocumentID(h.GetAudit))
			r.Post("/decision", withDocumentID(h.SubmitDecision))
			r.Post("/corrections", withDocumentID(h.SubmitCorrections))
			r.Post("/retry", withDocumentID(h.ControlStep))
			r.Post("/navigate", withDocumentID(h.NavigateStep))
		})
	})

	return r
}

func withDocumentID(fn func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, chi.URLParam(r, "documentId"))
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
