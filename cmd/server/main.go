package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"clip-demo/internal/app"
	"clip-demo/internal/embeddings"
	"clip-demo/internal/httputil"
	"clip-demo/internal/imaging"
	"clip-demo/internal/model"
	"clip-demo/internal/ranker"
	"clip-demo/internal/session"
)

type loadModelsRequest struct {
	ImageModelPath string `json:"image_model_path" validate:"omitempty,max=4096"`
	TextModelPath  string `json:"text_model_path" validate:"omitempty,max=4096"`
}

type textRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

type rankRequest struct {
	Subject    embeddings.Vector   `json:"subject" validate:"required"`
	Candidates []embeddings.Vector `json:"candidates" validate:"required"`
	Metric     string              `json:"metric" validate:"omitempty,oneof=cosine euclidean"`
}

type embeddingSummary struct {
	ID        uuid.UUID       `json:"id"`
	Kind      embeddings.Kind `json:"kind"`
	Label     string          `json:"label"`
	Dimension int             `json:"dimension"`
	CreatedAt time.Time       `json:"created_at"`
}

func summarize(e embeddings.LabeledEmbedding) embeddingSummary {
	return embeddingSummary{ID: e.ID, Kind: e.Kind, Label: e.Label, Dimension: len(e.Vector), CreatedAt: e.CreatedAt}
}

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = serve(ctx, deps)
	stop()
	if cerr := deps.Close(); cerr != nil {
		deps.Log.Warn("failed to release dependencies", "err", cerr)
	}
	if err != nil {
		deps.Log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// serve runs the HTTP server and the session sweeper until ctx is done.
func serve(ctx context.Context, deps app.Deps) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.Log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return deps.Sessions.Run(gctx, sweepInterval(deps.Config.SessionTTL))
	})
	g.Go(func() error {
		<-gctx.Done()
		deps.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func sweepInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/4, time.Second), 5*time.Minute)
}

func newRouter(deps app.Deps) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", createSessionHandler(deps))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", sessionStatusHandler(deps))
			r.Delete("/", deleteSessionHandler(deps))
			r.Post("/models", loadModelsHandler(deps))
			r.Post("/images", uploadImageHandler(deps))
			r.Post("/texts", addTextHandler(deps))
			r.Get("/distances", distancesHandler(deps))
		})
	})
	r.Post("/api/rank", rankHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))

	return r
}

// lookup resolves the {id} URL parameter. It writes the error response itself.
func lookup(deps app.Deps, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Fail(deps.Log, w, "invalid session id", err, http.StatusBadRequest)
		return nil, false
	}
	s, err := deps.Sessions.Get(id)
	if err != nil {
		httputil.FailErr(deps.Log, w, "session not found", err)
		return nil, false
	}
	return s, true
}

func createSessionHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Sessions.Create()
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{"session_id": s.ID()})
	}
}

func sessionStatusHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		httputil.WriteJSON(w, http.StatusOK, s.Status())
	}
}

func deleteSessionHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid session id", err, http.StatusBadRequest)
			return
		}
		if err := deps.Sessions.Delete(id); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				httputil.FailErr(deps.Log, w, "session not found", err)
				return
			}
			deps.Log.Warn("session closed with errors", "session_id", id, "err", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func loadModelsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		var req loadModelsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		// An empty request loads both configured bundles. Client paths stay under ModelsDir.
		if req.ImageModelPath == "" && req.TextModelPath == "" {
			req.ImageModelPath = deps.Config.ImageModelPath
			req.TextModelPath = deps.Config.TextModelPath
		} else if err := resolveModelPaths(deps.Config.ModelsDir, &req); err != nil {
			httputil.FailErr(deps.Log.With("session_id", s.ID()), w, "invalid model path", err)
			return
		}

		if err := s.LoadModels(r.Context(), req.ImageModelPath, req.TextModelPath); err != nil {
			httputil.FailErr(deps.Log.With("session_id", s.ID()), w, "failed to load models", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, s.Status())
	}
}

func resolveModelPaths(root string, req *loadModelsRequest) error {
	for _, p := range []*string{&req.ImageModelPath, &req.TextModelPath} {
		if *p == "" {
			continue
		}
		resolved, err := model.ResolvePath(root, *p)
		if err != nil {
			return err
		}
		*p = resolved
	}
	return nil
}

func uploadImageHandler(deps app.Deps) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize
	maxPixels := deps.Config.MaxImagePixels

	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize)

		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), err, http.StatusRequestEntityTooLarge)
				return
			}
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		img, format, err := imaging.Decode(file, maxPixels)
		if err != nil {
			if errors.Is(err, imaging.ErrImageTooLarge) {
				httputil.FailErr(deps.Log, w, fmt.Sprintf("image too large (max %d pixels)", maxPixels), err)
				return
			}
			httputil.FailErr(deps.Log, w, "unsupported image (PNG, JPEG, GIF and WebP allowed)", err)
			return
		}

		emb, err := s.EncodeImage(r.Context(), img, header.Filename)
		if err != nil {
			httputil.FailErr(deps.Log.With("session_id", s.ID()), w, "failed to encode image", err)
			return
		}
		deps.Log.Info("image encoded", "session_id", s.ID(), "filename", header.Filename, "format", format)
		httputil.WriteJSON(w, http.StatusCreated, summarize(emb))
	}
}

func addTextHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		var req textRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		emb, err := s.EncodeText(r.Context(), req.Text)
		if err != nil {
			httputil.FailErr(deps.Log.With("session_id", s.ID()), w, "failed to encode text", err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, summarize(emb))
	}
}

func distancesHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := lookup(deps, w, r)
		if !ok {
			return
		}
		idx := 0
		if raw := r.URL.Query().Get("image"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				httputil.Fail(deps.Log, w, "image must be an integer", err, http.StatusBadRequest)
				return
			}
			idx = n
		}

		ranking, err := s.Distances(idx)
		if err != nil {
			httputil.FailErr(deps.Log.With("session_id", s.ID()), w, "failed to calculate distances", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, ranking)
	}
}

func rankHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		metric, err := ranker.ParseMetric(req.Metric)
		if err != nil {
			httputil.FailErr(deps.Log, w, "invalid metric", err)
			return
		}

		results, err := ranker.RankWith(metric, req.Subject, req.Candidates)
		if err != nil {
			httputil.FailErr(deps.Log, w, "failed to rank", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"metric":  metric,
			"results": results,
		})
	}
}
