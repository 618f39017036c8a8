// Package ranker orders candidate embeddings by closeness to a subject embedding.
package ranker

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"clip-demo/internal/embeddings"
)

var (
	ErrEmptyInput        = errors.New("empty input")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrDegenerateVector  = errors.New("degenerate vector")
	ErrUnknownMetric     = errors.New("unknown metric")
)

// SubjectIndex marks the subject in DimensionError and DegenerateError.
const SubjectIndex = -1

// Metric selects how a candidate is scored against the subject. Higher is closer.
type Metric string

const (
	Cosine    Metric = "cosine"
	Euclidean Metric = "euclidean"
)

// ParseMetric maps a user-supplied name to a Metric. Empty selects Cosine.
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case "", Cosine:
		return Cosine, nil
	case Euclidean:
		return Euclidean, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownMetric, name)
	}
}

// Result is one ranked candidate. Index is its position in the input slice.
type Result struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// DimensionError reports the first vector whose length differs from the subject.
type DimensionError struct {
	Index int
	Want  int
	Got   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("candidate %d has dimension %d, want %d", e.Index, e.Got, e.Want)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// DegenerateError reports a vector that cannot be scored.
type DegenerateError struct {
	Index  int
	Reason string
}

func (e *DegenerateError) Error() string {
	if e.Index == SubjectIndex {
		return "subject vector " + e.Reason
	}
	return fmt.Sprintf("candidate %d %s", e.Index, e.Reason)
}

func (e *DegenerateError) Unwrap() error { return ErrDegenerateVector }

// Rank scores every candidate against subject with cosine similarity and returns
// them best first. Ties keep input order.
func Rank(subject embeddings.Vector, candidates []embeddings.Vector) ([]Result, error) {
	return RankWith(Cosine, subject, candidates)
}

// RankWith is Rank with an explicit metric. Euclidean scores are negated distances.
func RankWith(metric Metric, subject embeddings.Vector, candidates []embeddings.Vector) ([]Result, error) {
	if metric == "" {
		metric = Cosine
	}
	if metric != Cosine && metric != Euclidean {
		return nil, fmt.Errorf("%w %q", ErrUnknownMetric, metric)
	}
	norms, err := validate(metric, subject, candidates)
	if err != nil {
		return nil, err
	}

	// Scores are rounded to float32 before sorting. Candidates whose output
	// scores are equal keep input order, and the result is always non-increasing.
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		switch metric {
		case Euclidean:
			scores[i] = float32(-l2(subject, c))
		default:
			scores[i] = float32(clamp(dot(subject, c) / (norms[0] * norms[i+1])))
		}
	}

	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out := make([]Result, len(order))
	for n, idx := range order {
		out[n] = Result{Index: idx, Score: scores[idx]}
	}
	return out, nil
}

// Nearest returns the single best candidate.
func Nearest(subject embeddings.Vector, candidates []embeddings.Vector) (Result, error) {
	results, err := Rank(subject, candidates)
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// validate checks every input before any scoring happens. For cosine it returns
// the norms of the subject followed by each candidate.
func validate(metric Metric, subject embeddings.Vector, candidates []embeddings.Vector) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates: %w", ErrEmptyInput)
	}
	if len(subject) == 0 {
		return nil, fmt.Errorf("subject has no components: %w", ErrEmptyInput)
	}
	dim := len(subject)
	for i, c := range candidates {
		if len(c) != dim {
			return nil, &DimensionError{Index: i, Want: dim, Got: len(c)}
		}
	}

	var norms []float64
	if metric == Cosine {
		norms = make([]float64, 0, len(candidates)+1)
	}
	check := func(idx int, v embeddings.Vector) error {
		var sum float64
		for _, x := range v {
			f := float64(x)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return &DegenerateError{Index: idx, Reason: "has a non-finite component"}
			}
			sum += f * f
		}
		if metric == Cosine {
			if sum == 0 {
				return &DegenerateError{Index: idx, Reason: "has zero norm"}
			}
			norms = append(norms, math.Sqrt(sum))
		}
		return nil
	}
	if err := check(SubjectIndex, subject); err != nil {
		return nil, err
	}
	for i, c := range candidates {
		if err := check(i, c); err != nil {
			return nil, err
		}
	}
	return norms, nil
}

func dot(a, b embeddings.Vector) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2(a, b embeddings.Vector) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// clamp absorbs rounding that pushes a cosine just outside [-1, 1].
func clamp(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
