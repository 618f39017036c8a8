// Package model turns model bundle directories into loaded, probed encoders.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"clip-demo/internal/embeddings"
	"clip-demo/internal/imaging"
	"clip-demo/internal/retry"
)

var (
	ErrBundleNotFound  = errors.New("model bundle not found")
	ErrInvalidManifest = errors.New("invalid model manifest")
	ErrKindMismatch    = errors.New("model kind mismatch")
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrProbeFailed     = errors.New("model probe failed")
	ErrClosed          = errors.New("model handle closed")
)

const probeText = "probe"

// Encoders is what a provider builds from a manifest. Only the field matching
// the manifest kind needs to be set.
type Encoders struct {
	Image embeddings.ImageEncoder
	Text  embeddings.TextEncoder
}

// Provider builds encoders for a manifest.
type Provider interface {
	Open(ctx context.Context, m Manifest) (Encoders, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, m Manifest) (Encoders, error)

func (f ProviderFunc) Open(ctx context.Context, m Manifest) (Encoders, error) {
	return f(ctx, m)
}

// Registry maps manifest provider names to providers.
type Registry map[string]Provider

func (r Registry) names() string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// LoaderOptions tunes probing.
type LoaderOptions struct {
	ProbeAttempts int
	ProbeBackoff  time.Duration
}

// Loader loads bundles. It is safe for concurrent use.
type Loader struct {
	log       *slog.Logger
	providers Registry
	opts      LoaderOptions
}

func NewLoader(log *slog.Logger, providers Registry, opts LoaderOptions) *Loader {
	if opts.ProbeAttempts <= 0 {
		opts.ProbeAttempts = 3
	}
	if opts.ProbeBackoff <= 0 {
		opts.ProbeBackoff = 500 * time.Millisecond
	}
	return &Loader{log: log, providers: providers, opts: opts}
}

// Load reads the bundle at path, opens its encoder and probes it. The returned
// handle is ready to encode. kind must match the manifest.
func (l *Loader) Load(ctx context.Context, path string, kind embeddings.Kind) (*Handle, error) {
	start := time.Now()
	log := l.log.With("path", path, "kind", kind)

	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	if m.Kind != kind {
		return nil, fmt.Errorf("%w: bundle %s holds a %s encoder, want %s", ErrKindMismatch, m.Name, m.Kind, kind)
	}
	provider, ok := l.providers[m.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownProvider, m.Provider, l.providers.names())
	}

	encs, err := provider.Open(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.Name, err)
	}
	h, err := newHandle(m, encs)
	if err != nil {
		return nil, err
	}

	err = retry.Do(ctx, l.opts.ProbeAttempts, l.opts.ProbeBackoff, func(ctx context.Context) error {
		perr := h.probe(ctx)
		if perr != nil && errors.Is(perr, embeddings.ErrUnexpectedDimension) {
			return retry.Permanent(perr)
		}
		if perr != nil {
			log.Warn("model probe failed", "err", perr)
		}
		return perr
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrProbeFailed, m.Name, err)
	}

	log.Info("model loaded", "name", m.Name, "model", m.Model, "dimension", m.Dimension, "duration_ms", time.Since(start).Milliseconds())
	return h, nil
}

// probe encodes a trivial input and checks the output dimension.
func (h *Handle) probe(ctx context.Context) error {
	switch h.manifest.Kind {
	case embeddings.KindImage:
		size := h.manifest.ImageSize()
		_, err := h.image.EncodeImage(ctx, imaging.Blank(size), size)
		return err
	default:
		_, err := h.text.EncodeText(ctx, probeText)
		return err
	}
}
