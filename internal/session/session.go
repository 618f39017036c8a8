// Package session holds the per-user state of the demo: which models are
// loaded and the embeddings produced so far.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"clip-demo/internal/cache"
	"clip-demo/internal/embeddings"
	"clip-demo/internal/model"
	"clip-demo/internal/ranker"
)

var (
	ErrModelNotLoaded  = errors.New("model not loaded")
	ErrAlreadyLoaded   = errors.New("model already loaded")
	ErrLoadInProgress  = errors.New("model load in progress")
	ErrNotReady        = errors.New("not enough embeddings to calculate distances")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrClosed          = errors.New("session closed")
	ErrNotFound        = errors.New("session not found")
)

// MinTexts is how many text embeddings Distances needs before it will rank.
const MinTexts = 2

// Loader loads model bundles.
type Loader interface {
	Load(ctx context.Context, path string, kind embeddings.Kind) (*model.Handle, error)
}

// Options are shared by every session a Manager creates.
type Options struct {
	// Cache, when set, wraps loaded encoders so repeated inputs skip inference.
	Cache    cache.Cache
	CacheTTL time.Duration
}

// ImageEmbed is an image embedding together with the decoded picture.
type ImageEmbed struct {
	embeddings.LabeledEmbedding
	Image image.Image `json:"-"`
}

// Distance is one text ranked against an image.
type Distance struct {
	Rank      int     `json:"rank"`
	TextIndex int     `json:"text_index"`
	Text      string  `json:"text"`
	Score     float32 `json:"score"`
}

// Ranking is the result of Distances for one image.
type Ranking struct {
	ImageIndex int        `json:"image_index"`
	Image      string     `json:"image"`
	Distances  []Distance `json:"distances"`
}

type slot struct {
	handle  *model.Handle
	loading bool
	image   embeddings.ImageEncoder
	text    embeddings.TextEncoder
}

// Session is safe for concurrent use.
type Session struct {
	id        uuid.UUID
	createdAt time.Time
	loader    Loader
	opts      Options
	log       *slog.Logger

	mu       sync.Mutex
	lastUsed time.Time
	closed   bool
	models   map[embeddings.Kind]*slot
	images   []ImageEmbed
	texts    []embeddings.LabeledEmbedding
}

// New creates an empty session.
func New(loader Loader, opts Options, log *slog.Logger) *Session {
	id := uuid.New()
	now := time.Now().UTC()
	return &Session{
		id:        id,
		createdAt: now,
		lastUsed:  now,
		loader:    loader,
		opts:      opts,
		log:       log.With("session_id", id),
		models: map[embeddings.Kind]*slot{
			embeddings.KindImage: {},
			embeddings.KindText:  {},
		},
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

// LoadImageModel loads the image encoder bundle at path.
func (s *Session) LoadImageModel(ctx context.Context, path string) error {
	return s.load(ctx, embeddings.KindImage, path)
}

// LoadTextModel loads the text encoder bundle at path.
func (s *Session) LoadTextModel(ctx context.Context, path string) error {
	return s.load(ctx, embeddings.KindText, path)
}

// LoadModels loads both encoders concurrently. An empty path skips that model.
// Both loads run to completion; the first failure is returned.
func (s *Session) LoadModels(ctx context.Context, imagePath, textPath string) error {
	var g errgroup.Group
	if imagePath != "" {
		g.Go(func() error { return s.LoadImageModel(ctx, imagePath) })
	}
	if textPath != "" {
		g.Go(func() error { return s.LoadTextModel(ctx, textPath) })
	}
	return g.Wait()
}

func (s *Session) load(ctx context.Context, kind embeddings.Kind, path string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	sl := s.models[kind]
	switch {
	case sl.handle != nil:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, kind)
	case sl.loading:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLoadInProgress, kind)
	}
	sl.loading = true
	s.touch()
	s.mu.Unlock()

	h, err := s.loader.Load(ctx, path, kind)

	s.mu.Lock()
	defer s.mu.Unlock()
	sl.loading = false
	if err != nil {
		s.log.Error("model load failed", "kind", kind, "path", path, "err", err)
		return err
	}
	if s.closed {
		_ = h.Close()
		return ErrClosed
	}
	if err := s.attach(sl, h); err != nil {
		_ = h.Close()
		return err
	}
	s.log.Info("model attached", "kind", kind, "name", h.Manifest().Name)
	return nil
}

// attach stores h in sl, wrapping its encoder with the cache when configured.
func (s *Session) attach(sl *slot, h *model.Handle) error {
	m := h.Manifest()
	cacheModel := m.Model
	if cacheModel == "" {
		cacheModel = m.Name
	}
	switch h.Kind() {
	case embeddings.KindImage:
		enc, err := h.ImageEncoder()
		if err != nil {
			return err
		}
		if s.opts.Cache != nil {
			enc = cache.NewCachedImageEncoder(enc, s.opts.Cache, cacheModel, s.opts.CacheTTL, s.log)
		}
		sl.image = enc
	case embeddings.KindText:
		enc, err := h.TextEncoder()
		if err != nil {
			return err
		}
		if s.opts.Cache != nil {
			enc = cache.NewCachedTextEncoder(enc, s.opts.Cache, cacheModel, s.opts.CacheTTL, s.log)
		}
		sl.text = enc
	}
	sl.handle = h
	return nil
}

// EncodeImage embeds img at the loaded model's input size and appends it to the
// session's images. label names the picture, typically its filename.
func (s *Session) EncodeImage(ctx context.Context, img image.Image, label string) (embeddings.LabeledEmbedding, error) {
	if img == nil {
		return embeddings.LabeledEmbedding{}, embeddings.ErrNilImage
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return embeddings.LabeledEmbedding{}, ErrClosed
	}
	sl := s.models[embeddings.KindImage]
	if sl.handle == nil {
		s.mu.Unlock()
		return embeddings.LabeledEmbedding{}, fmt.Errorf("%w: %s", ErrModelNotLoaded, embeddings.KindImage)
	}
	enc, size := sl.image, sl.handle.Manifest().ImageSize()
	s.touch()
	s.mu.Unlock()

	vec, err := enc.EncodeImage(ctx, img, size)
	if err != nil {
		s.log.Error("image encode failed", "label", label, "err", err)
		return embeddings.LabeledEmbedding{}, err
	}
	emb := embeddings.NewLabeled(embeddings.KindImage, label, vec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return embeddings.LabeledEmbedding{}, ErrClosed
	}
	s.images = append(s.images, ImageEmbed{LabeledEmbedding: emb, Image: img})
	return copyEmbedding(emb), nil
}

// EncodeText embeds text and appends it to the session's texts.
func (s *Session) EncodeText(ctx context.Context, text string) (embeddings.LabeledEmbedding, error) {
	if text == "" {
		return embeddings.LabeledEmbedding{}, embeddings.ErrEmptyText
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return embeddings.LabeledEmbedding{}, ErrClosed
	}
	sl := s.models[embeddings.KindText]
	if sl.handle == nil {
		s.mu.Unlock()
		return embeddings.LabeledEmbedding{}, fmt.Errorf("%w: %s", ErrModelNotLoaded, embeddings.KindText)
	}
	enc := sl.text
	s.touch()
	s.mu.Unlock()

	vec, err := enc.EncodeText(ctx, text)
	if err != nil {
		s.log.Error("text encode failed", "err", err)
		return embeddings.LabeledEmbedding{}, err
	}
	emb := embeddings.NewLabeled(embeddings.KindText, text, vec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return embeddings.LabeledEmbedding{}, ErrClosed
	}
	s.texts = append(s.texts, emb)
	return copyEmbedding(emb), nil
}

// Distances ranks every text embedding against the image at imageIndex, best
// match first. It needs at least one image and MinTexts texts.
func (s *Session) Distances(imageIndex int) (Ranking, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Ranking{}, ErrClosed
	}
	if len(s.images) == 0 || len(s.texts) < MinTexts {
		n, m := len(s.images), len(s.texts)
		s.mu.Unlock()
		return Ranking{}, fmt.Errorf("%w: have %d images and %d texts, need 1 and %d", ErrNotReady, n, m, MinTexts)
	}
	if imageIndex < 0 || imageIndex >= len(s.images) {
		n := len(s.images)
		s.mu.Unlock()
		return Ranking{}, fmt.Errorf("%w: image %d of %d", ErrIndexOutOfRange, imageIndex, n)
	}
	subject := s.images[imageIndex].Vector
	label := s.images[imageIndex].Label
	candidates := make([]embeddings.Vector, len(s.texts))
	labels := make([]string, len(s.texts))
	for i, t := range s.texts {
		candidates[i] = t.Vector
		labels[i] = t.Label
	}
	s.touch()
	s.mu.Unlock()

	// Stored vectors are never mutated, so ranking outside the lock is safe.
	results, err := ranker.Rank(subject, candidates)
	if err != nil {
		return Ranking{}, err
	}
	out := make([]Distance, len(results))
	for i, r := range results {
		out[i] = Distance{Rank: i + 1, TextIndex: r.Index, Text: labels[r.Index], Score: r.Score}
	}
	return Ranking{ImageIndex: imageIndex, Image: label, Distances: out}, nil
}

// Images returns a snapshot of the image embeddings in encode order.
func (s *Session) Images() []ImageEmbed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ImageEmbed, len(s.images))
	for i, im := range s.images {
		out[i] = ImageEmbed{LabeledEmbedding: copyEmbedding(im.LabeledEmbedding), Image: im.Image}
	}
	return out
}

// Texts returns a snapshot of the text embeddings in encode order.
func (s *Session) Texts() []embeddings.LabeledEmbedding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]embeddings.LabeledEmbedding, len(s.texts))
	for i, t := range s.texts {
		out[i] = copyEmbedding(t)
	}
	return out
}

// ModelStatus describes one encoder slot.
type ModelStatus struct {
	Loaded    bool   `json:"loaded"`
	Loading   bool   `json:"loading"`
	Name      string `json:"name,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

// Status is a point-in-time view of a session.
type Status struct {
	ID         uuid.UUID   `json:"session_id"`
	CreatedAt  time.Time   `json:"created_at"`
	LastUsed   time.Time   `json:"last_used"`
	ImageModel ModelStatus `json:"image_model"`
	TextModel  ModelStatus `json:"text_model"`
	Images     []string    `json:"images"`
	Texts      []string    `json:"texts"`
	Ready      bool        `json:"ready"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:         s.id,
		CreatedAt:  s.createdAt,
		LastUsed:   s.lastUsed,
		ImageModel: slotStatus(s.models[embeddings.KindImage]),
		TextModel:  slotStatus(s.models[embeddings.KindText]),
		Images:     make([]string, len(s.images)),
		Texts:      make([]string, len(s.texts)),
		Ready:      len(s.images) > 0 && len(s.texts) >= MinTexts,
	}
	for i, im := range s.images {
		st.Images[i] = im.Label
	}
	for i, t := range s.texts {
		st.Texts[i] = t.Label
	}
	return st
}

// Close releases the session's model handles and drops its embeddings.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, sl := range s.models {
		if sl.handle != nil {
			errs = append(errs, sl.handle.Close())
			sl.handle, sl.image, sl.text = nil, nil, nil
		}
	}
	s.images, s.texts = nil, nil
	return errors.Join(errs...)
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// touch records activity; callers hold s.mu.
func (s *Session) touch() {
	s.lastUsed = time.Now().UTC()
}

func slotStatus(sl *slot) ModelStatus {
	st := ModelStatus{Loading: sl.loading}
	if sl.handle != nil {
		m := sl.handle.Manifest()
		st.Loaded = true
		st.Name = m.Name
		st.Model = m.Model
		st.Dimension = m.Dimension
	}
	return st
}

func copyEmbedding(e embeddings.LabeledEmbedding) embeddings.LabeledEmbedding {
	e.Vector = e.Vector.Clone()
	return e
}
