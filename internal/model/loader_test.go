package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clip-demo/internal/embeddings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textManifest() Manifest {
	return Manifest{Name: "TextEncoder_float32", Kind: embeddings.KindText, Provider: "mock", Model: "clip", Dimension: 2}
}

func imageManifest() Manifest {
	return Manifest{Name: "ImageEncoder_float32", Kind: embeddings.KindImage, Provider: "mock", Model: "clip", Dimension: 2, InputSize: 8}
}

func writeBundle(t *testing.T, m Manifest) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), m.Name+".bundle")
	require.NoError(t, WriteManifest(dir, m))
	return dir
}

func newTestLoader(p Provider) *Loader {
	return NewLoader(testLogger(), Registry{"mock": p}, LoaderOptions{ProbeAttempts: 2, ProbeBackoff: time.Millisecond})
}

func TestLoadText(t *testing.T) {
	dir := writeBundle(t, textManifest())

	enc := &embeddings.MockTextEncoder{}
	enc.On("EncodeText", mock.Anything, probeText).Return(embeddings.Vector{1, 0}, nil).Once()
	enc.On("EncodeText", mock.Anything, "a dog").Return(embeddings.Vector{0, 1}, nil).Once()

	p := &MockProvider{}
	p.On("Open", mock.Anything, mock.MatchedBy(func(m Manifest) bool {
		return m.Name == "TextEncoder_float32" && m.Dimension == 2
	})).Return(Encoders{Text: enc}, nil).Once()

	h, err := newTestLoader(p).Load(context.Background(), dir, embeddings.KindText)
	require.NoError(t, err)
	assert.Equal(t, embeddings.KindText, h.Kind())

	te, err := h.TextEncoder()
	require.NoError(t, err)
	v, err := te.EncodeText(context.Background(), "a dog")
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{0, 1}, v)

	_, err = h.ImageEncoder()
	assert.ErrorIs(t, err, ErrKindMismatch)

	require.NoError(t, h.Close())
	_, err = te.EncodeText(context.Background(), "a dog")
	assert.ErrorIs(t, err, ErrClosed)

	p.AssertExpectations(t)
	enc.AssertExpectations(t)
}

func TestLoadImageProbeUsesInputSize(t *testing.T) {
	dir := writeBundle(t, imageManifest())

	enc := &embeddings.MockImageEncoder{}
	enc.On("EncodeImage", mock.Anything, mock.Anything, imageManifest().ImageSize()).
		Return(embeddings.Vector{1, 1}, nil).Once()

	p := &MockProvider{}
	p.On("Open", mock.Anything, mock.Anything).Return(Encoders{Image: enc}, nil).Once()

	h, err := newTestLoader(p).Load(context.Background(), dir, embeddings.KindImage)
	require.NoError(t, err)
	assert.Equal(t, 8, h.Manifest().ImageSize().X)
	enc.AssertExpectations(t)
}

func TestLoadProbeRetries(t *testing.T) {
	dir := writeBundle(t, textManifest())

	enc := &embeddings.MockTextEncoder{}
	enc.On("EncodeText", mock.Anything, probeText).Return(nil, errors.New("warming up")).Once()
	enc.On("EncodeText", mock.Anything, probeText).Return(embeddings.Vector{1, 0}, nil).Once()

	p := &MockProvider{}
	p.On("Open", mock.Anything, mock.Anything).Return(Encoders{Text: enc}, nil).Once()

	_, err := newTestLoader(p).Load(context.Background(), dir, embeddings.KindText)
	require.NoError(t, err)
	enc.AssertExpectations(t)
}

func TestLoadErrors(t *testing.T) {
	wrongDim := &embeddings.MockTextEncoder{}
	wrongDim.On("EncodeText", mock.Anything, probeText).Return(embeddings.Vector{1, 2, 3}, nil).Once()

	broken := &embeddings.MockTextEncoder{}
	broken.On("EncodeText", mock.Anything, probeText).Return(nil, errors.New("connection refused"))

	tests := []struct {
		name  string
		path  func(t *testing.T) string
		kind  embeddings.Kind
		setup func(*MockProvider)
		want  error
	}{
		{
			name: "missing bundle",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
			kind: embeddings.KindText,
			want: ErrBundleNotFound,
		},
		{
			name: "bundle is a file",
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "model.mlmodelc")
				require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
				return p
			},
			kind: embeddings.KindText,
			want: ErrBundleNotFound,
		},
		{
			name: "missing manifest",
			path: func(t *testing.T) string { return t.TempDir() },
			kind: embeddings.KindText,
			want: ErrInvalidManifest,
		},
		{
			name: "malformed manifest",
			path: func(t *testing.T) string {
				dir := t.TempDir()
				require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("kind: [oops"), 0o644))
				return dir
			},
			kind: embeddings.KindText,
			want: ErrInvalidManifest,
		},
		{
			name: "zero dimension",
			path: func(t *testing.T) string {
				dir := t.TempDir()
				require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("kind: text\nprovider: mock\n"), 0o644))
				return dir
			},
			kind: embeddings.KindText,
			want: ErrInvalidManifest,
		},
		{
			name: "kind mismatch",
			path: func(t *testing.T) string { return writeBundle(t, imageManifest()) },
			kind: embeddings.KindText,
			want: ErrKindMismatch,
		},
		{
			name: "unknown provider",
			path: func(t *testing.T) string {
				m := textManifest()
				m.Provider = "coreml"
				return writeBundle(t, m)
			},
			kind: embeddings.KindText,
			want: ErrUnknownProvider,
		},
		{
			name: "probe returns wrong dimension",
			path: func(t *testing.T) string { return writeBundle(t, textManifest()) },
			kind: embeddings.KindText,
			setup: func(p *MockProvider) {
				p.On("Open", mock.Anything, mock.Anything).Return(Encoders{Text: wrongDim}, nil).Once()
			},
			want: ErrProbeFailed,
		},
		{
			name: "probe keeps failing",
			path: func(t *testing.T) string { return writeBundle(t, textManifest()) },
			kind: embeddings.KindText,
			setup: func(p *MockProvider) {
				p.On("Open", mock.Anything, mock.Anything).Return(Encoders{Text: broken}, nil).Once()
			},
			want: ErrProbeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &MockProvider{}
			if tt.setup != nil {
				tt.setup(p)
			}
			h, err := newTestLoader(p).Load(context.Background(), tt.path(t), tt.kind)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, tt.want)
			p.AssertExpectations(t)
		})
	}
	wrongDim.AssertExpectations(t)
}

func TestLoadProviderError(t *testing.T) {
	dir := writeBundle(t, textManifest())
	boom := errors.New("no such endpoint")

	p := &MockProvider{}
	p.On("Open", mock.Anything, mock.Anything).Return(Encoders{}, boom).Once()

	_, err := newTestLoader(p).Load(context.Background(), dir, embeddings.KindText)
	assert.ErrorIs(t, err, boom)
}

func TestLoadProviderMissingEncoder(t *testing.T) {
	dir := writeBundle(t, textManifest())

	p := &MockProvider{}
	p.On("Open", mock.Anything, mock.Anything).Return(Encoders{}, nil).Once()

	_, err := newTestLoader(p).Load(context.Background(), dir, embeddings.KindText)
	assert.Error(t, err)
}

func TestLoadCanceled(t *testing.T) {
	dir := writeBundle(t, textManifest())

	enc := &embeddings.MockTextEncoder{}
	enc.On("EncodeText", mock.Anything, probeText).Return(nil, errors.New("slow"))

	p := &MockProvider{}
	p.On("Open", mock.Anything, mock.Anything).Return(Encoders{Text: enc}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLoader(testLogger(), Registry{"mock": p}, LoaderOptions{ProbeAttempts: 5, ProbeBackoff: time.Hour})
	_, err := l.Load(ctx, dir, embeddings.KindText)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadManifestDefaultsName(t *testing.T) {
	m := textManifest()
	m.Name = ""
	dir := filepath.Join(t.TempDir(), "TextEncoder_float32.mlmodelc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("kind: text\nprovider: mock\ndimension: 512\n"), 0o644))

	got, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "TextEncoder_float32.mlmodelc", got.Name)
	assert.Equal(t, 512, got.Dimension)
	assert.Equal(t, 224, got.ImageSize().X)
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
	}{
		{"relative", "TextEncoder_float32.bundle", filepath.Join(root, "TextEncoder_float32.bundle"), nil},
		{"nested", "clip/a/../ImageEncoder.bundle", filepath.Join(root, "clip", "ImageEncoder.bundle"), nil},
		{"absolute inside", filepath.Join(root, "x.bundle"), filepath.Join(root, "x.bundle"), nil},
		{"parent", "../secret", "", ErrBundleNotFound},
		{"parent only", "..", "", ErrBundleNotFound},
		{"climbs out", "a/../../etc", "", ErrBundleNotFound},
		{"absolute outside", "/etc/passwd", "", ErrBundleNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(root, tt.path)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePathRelativeRoot(t *testing.T) {
	got, err := ResolvePath("./models", "TextEncoder_float32.bundle")
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "models", "TextEncoder_float32.bundle"), got)

	_, err = ResolvePath("./models", "../models-other/x.bundle")
	assert.ErrorIs(t, err, ErrBundleNotFound)
}
