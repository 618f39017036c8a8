package embeddings

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"clip-demo/internal/imaging"
	"clip-demo/internal/retry"
)

// RemoteEncoder calls an OpenAI-compatible embeddings endpoint that serves a
// CLIP model. Texts are sent as plain input; images as PNG data URIs with
// modality=image.
type RemoteEncoder struct {
	model    openai.EmbeddingModel
	client   *openai.Client
	timeout  time.Duration
	attempts int
}

const (
	defaultEncodeTimeout = 30 * time.Second
	defaultAttempts      = 3
	retryBase            = 200 * time.Millisecond
)

// RemoteOptions configures NewRemoteEncoder.
type RemoteOptions struct {
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Attempts int
}

// NewRemoteEncoder creates an encoder for the given endpoint and model.
func NewRemoteEncoder(opts RemoteOptions) (*RemoteEncoder, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("model required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultEncodeTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	reqOpts := []option.RequestOption{
		option.WithBaseURL(opts.BaseURL),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	} else {
		// Local inference servers usually ignore auth, but the client insists on a key.
		reqOpts = append(reqOpts, option.WithAPIKey("unused"))
	}
	cli := openai.NewClient(reqOpts...)
	return &RemoteEncoder{
		model:    openai.EmbeddingModel(opts.Model),
		client:   &cli,
		timeout:  opts.Timeout,
		attempts: opts.Attempts,
	}, nil
}

func (e *RemoteEncoder) EncodeText(ctx context.Context, text string) (Vector, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	return e.embed(ctx, text)
}

func (e *RemoteEncoder) EncodeImage(ctx context.Context, img image.Image, size image.Point) (Vector, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	resized, err := imaging.Resize(img, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	data, err := imaging.EncodePNG(resized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	return e.embed(ctx, uri, option.WithJSONSet("modality", "image"))
}

func (e *RemoteEncoder) embed(ctx context.Context, input string, extra ...option.RequestOption) (Vector, error) {
	if e == nil || e.client == nil {
		return nil, fmt.Errorf("%w: nil remote encoder", ErrEncode)
	}
	var vec Vector
	err := retry.Do(ctx, e.attempts, retryBase, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfString: openai.String(input),
			},
			Model: e.model,
		}, extra...)
		if err != nil {
			if !transient(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if len(resp.Data) == 0 {
			return retry.Permanent(errors.New("no embedding returned"))
		}
		// Convert []float64 to []float32
		embedding := resp.Data[0].Embedding
		vec = make(Vector, len(embedding))
		for i, v := range embedding {
			vec[i] = float32(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return vec, nil
}

// transient reports whether a failed call is worth retrying.
func transient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
