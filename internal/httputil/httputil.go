package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"clip-demo/internal/embeddings"
	"clip-demo/internal/imaging"
	"clip-demo/internal/model"
	"clip-demo/internal/ranker"
	"clip-demo/internal/session"
)

// Validator checks request structs tagged with `validate`.
var Validator = validator.New(validator.WithRequiredStructEnabled())

// NewRouter creates a chi router with standard middleware (RequestID, Recoverer, Logger, Timeout, RealIP).
func NewRouter(log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(Recoverer(log))
	r.Use(RequestLogger(log))

	return r
}

// WriteJSON writes a JSON response with proper headers.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(body)
}

// HealthHandler returns a simple health check endpoint.
func HealthHandler(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Warn("healthz write failed", "err", err)
		}
	}
}

// RequestLogger is a lightweight HTTP logger that uses slog.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Recoverer logs panics via slog while preserving chi's Recoverer behavior.
func Recoverer(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic recovered", "panic", rec, "path", r.URL.Path, "method", r.Method, "request_id", middleware.GetReqID(r.Context()))
					WriteError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes message as a JSON error body.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

// Fail writes an error response with consistent logging. Client errors log at
// warn level, everything else at error.
func Fail(log *slog.Logger, w http.ResponseWriter, message string, err error, status int) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status < http.StatusInternalServerError {
		log.Warn(message, "err", err, "status", status)
	} else {
		log.Error(message, "err", err, "status", status)
	}
	body := ErrorBody{Error: message}
	if err != nil && status < http.StatusInternalServerError {
		body.Detail = err.Error()
	}
	WriteJSON(w, status, body)
}

// FailErr is Fail with the status picked by StatusFor.
func FailErr(log *slog.Logger, w http.ResponseWriter, message string, err error) {
	Fail(log, w, message, err, StatusFor(err))
}

// ValidationError reports struct validation failures as a 400 listing each field.
func ValidationError(log *slog.Logger, w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		Fail(log, w, "invalid payload", err, http.StatusBadRequest)
		return
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			fields = append(fields, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	Fail(log, w, "validation failed", errors.New(strings.Join(fields, "; ")), http.StatusBadRequest)
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyLoaded),
		errors.Is(err, session.ErrLoadInProgress),
		errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrModelNotLoaded),
		errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, ranker.ErrEmptyInput),
		errors.Is(err, ranker.ErrUnknownMetric),
		errors.Is(err, embeddings.ErrEmptyText),
		errors.Is(err, embeddings.ErrNilImage),
		errors.Is(err, imaging.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, imaging.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ranker.ErrDimensionMismatch),
		errors.Is(err, ranker.ErrDegenerateVector),
		errors.Is(err, model.ErrBundleNotFound),
		errors.Is(err, model.ErrInvalidManifest),
		errors.Is(err, model.ErrKindMismatch),
		errors.Is(err, model.ErrUnknownProvider):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrProbeFailed),
		errors.Is(err, embeddings.ErrEncode),
		errors.Is(err, embeddings.ErrUnexpectedDimension):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
