// Package labels holds the ordered label table and derives top-1
// predictions from confidence vectors.
package labels

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is the ordered label list, index-aligned with model output. It is
// immutable once built.
type Table struct {
	labels []string
}

// Prediction is a resolved label with its raw winning score. Confidence is
// never rescaled here.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Index      int     `json:"index"`
}

// NewTable copies labels into a Table. Entries are trimmed; blank entries
// are rejected.
func NewTable(labels []string) (*Table, error) {
	if len(labels) == 0 {
		return nil, apperrors.NewLoadError(apperrors.CorruptLabels, "label table is empty", nil)
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, apperrors.NewLoadError(apperrors.CorruptLabels, fmt.Sprintf("blank label at line %d", i+1), nil)
		}
		out[i] = l
	}
	return &Table{labels: out}, nil
}

// ParseTable reads UTF-8 text with one label per line. CRLF line endings,
// a leading BOM and a single trailing newline are tolerated.
func ParseTable(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil, apperrors.NewLoadError(apperrors.CorruptLabels, "label table is empty", nil)
	}
	return NewTable(strings.Split(text, "\n"))
}

func (t *Table) Len() int { return len(t.labels) }

// At returns the label at index i
func (t *Table) At(i int) (string, bool) {
	if i < 0 || i >= len(t.labels) {
		return "", false
	}
	return t.labels[i], true
}

// Labels returns a copy of the ordered labels
func (t *Table) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// Resolve picks the highest score by linear scan. Ties go to the lowest
// index. NaN is unordered and never wins; infinities compare normally.
func Resolve(scores []float32, table *Table) (Prediction, error) {
	if err := checkShape(scores, table); err != nil {
		return Prediction{}, err
	}

	best := -1
	for i, s := range scores {
		if math.IsNaN(float64(s)) {
			continue
		}
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	if best < 0 {
		return Prediction{}, apperrors.NewResolutionError(apperrors.NoComparableScore, "every score is NaN")
	}

	return predictionAt(scores, table, best)
}

// TopK returns up to k predictions ordered by descending score, with the
// same tie-break and NaN rules as Resolve.
func TopK(scores []float32, table *Table, k int) ([]Prediction, error) {
	if err := checkShape(scores, table); err != nil {
		return nil, err
	}

	idx := make([]int, 0, len(scores))
	for i, s := range scores {
		if !math.IsNaN(float64(s)) {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, apperrors.NewResolutionError(apperrors.NoComparableScore, "every score is NaN")
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if k > 0 && k < len(idx) {
		idx = idx[:k]
	}

	out := make([]Prediction, 0, len(idx))
	for _, i := range idx {
		p, err := predictionAt(scores, table, i)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func checkShape(scores []float32, table *Table) error {
	if len(scores) == 0 {
		return apperrors.NewResolutionError(apperrors.ShapeMismatch, "confidence vector is empty")
	}
	if table == nil || table.Len() != len(scores) {
		n := 0
		if table != nil {
			n = table.Len()
		}
		return apperrors.NewResolutionError(apperrors.ShapeMismatch,
			fmt.Sprintf("%d scores for %d labels", len(scores), n))
	}
	return nil
}

func predictionAt(scores []float32, table *Table, i int) (Prediction, error) {
	label, ok := table.At(i)
	if !ok {
		return Prediction{}, apperrors.NewResolutionError(apperrors.IndexOutOfRange,
			fmt.Sprintf("index %d outside %d labels", i, table.Len()))
	}
	return Prediction{Label: label, Confidence: float64(scores[i]), Index: i}, nil
}
