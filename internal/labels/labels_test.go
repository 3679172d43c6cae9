package labels

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/anime-shed/leaf-inspector-go/internal/errors"
)

func mustTable(t *testing.T, labels ...string) *Table {
	t.Helper()
	table, err := NewTable(labels)
	require.NoError(t, err)
	return table
}

func TestResolve_PicksMaximum(t *testing.T) {
	p, err := Resolve([]float32{0.1, 0.9, 0.05}, mustTable(t, "A", "B", "C"))
	require.NoError(t, err)

	assert.Equal(t, "B", p.Label)
	assert.Equal(t, 1, p.Index)
	assert.InDelta(t, 0.9, p.Confidence, 1e-6)
}

func TestResolve_TieGoesToFirst(t *testing.T) {
	table := mustTable(t, "A", "B", "C", "D")

	tests := []struct {
		name   string
		scores []float32
		want   string
	}{
		{"adjacent tie", []float32{0.5, 0.5, 0.1, 0.0}, "A"},
		{"split tie", []float32{0.1, 0.7, 0.2, 0.7}, "B"},
		{"all equal", []float32{0.25, 0.25, 0.25, 0.25}, "A"},
		{"negative scores", []float32{-3, -1, -1, -2}, "B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				p, err := Resolve(tt.scores, table)
				require.NoError(t, err)
				assert.Equal(t, tt.want, p.Label)
			}
		})
	}
}

func TestResolve_ShapeMismatch(t *testing.T) {
	table := mustTable(t, "A", "B", "C", "D")

	tests := []struct {
		name   string
		scores []float32
		table  *Table
	}{
		{"five scores four labels", []float32{0.1, 0.2, 0.3, 0.2, 0.2}, table},
		{"three scores four labels", []float32{0.1, 0.2, 0.7}, table},
		{"empty scores", nil, table},
		{"nil table", []float32{1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Resolve(tt.scores, tt.table)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrShapeMismatch), "got %v", err)
			assert.Empty(t, p.Label)
		})
	}
}

func TestResolve_NaN(t *testing.T) {
	nan := float32(math.NaN())
	table := mustTable(t, "A", "B", "C")

	p, err := Resolve([]float32{nan, 0.2, 0.1}, table)
	require.NoError(t, err)
	assert.Equal(t, "B", p.Label)

	_, err = Resolve([]float32{nan, nan, nan}, table)
	assert.True(t, errors.Is(err, apperrors.ErrNoComparableScore), "got %v", err)
}

func TestResolve_Infinities(t *testing.T) {
	negInf := float32(math.Inf(-1))
	table := mustTable(t, "A", "B", "C")

	// -Inf still orders, so the first one wins like any other tie
	p, err := Resolve([]float32{negInf, negInf, negInf}, table)
	require.NoError(t, err)
	assert.Equal(t, "A", p.Label)

	p, err = Resolve([]float32{0.4, float32(math.Inf(1)), float32(math.NaN())}, table)
	require.NoError(t, err)
	assert.Equal(t, "B", p.Label)
}

func TestTopK(t *testing.T) {
	table := mustTable(t, "A", "B", "C", "D")

	top, err := TopK([]float32{0.2, 0.4, 0.4, 0.0}, table, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []string{"B", "C", "A"}, []string{top[0].Label, top[1].Label, top[2].Label})

	all, err := TopK([]float32{0.2, 0.4, 0.4, 0.0}, table, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = TopK([]float32{0.2}, table, 1)
	assert.True(t, errors.Is(err, apperrors.ErrShapeMismatch))
}

func TestParseTable(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"plain", "A\nB\nC", []string{"A", "B", "C"}},
		{"trailing newline", "A\nB\n", []string{"A", "B"}},
		{"crlf", "A\r\nB\r\n", []string{"A", "B"}},
		{"bom", "\xEF\xBB\xBFA\nB", []string{"A", "B"}},
		{"surrounding whitespace", "  Tomato___healthy \n\tTomato___Early_blight\t", []string{"Tomato___healthy", "Tomato___Early_blight"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseTable([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.want, table.Labels())
		})
	}
}

func TestParseTable_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"only newline", "\n"},
		{"blank line in middle", "A\n\nB"},
		{"whitespace line", "A\n   \nB"},
		{"two trailing newlines", "A\nB\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTable([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrCorruptLabels), "got %v", err)
		})
	}
}

func TestTable_LabelsIsCopy(t *testing.T) {
	table := mustTable(t, "A", "B")
	got := table.Labels()
	got[0] = "Z"

	label, ok := table.At(0)
	assert.True(t, ok)
	assert.Equal(t, "A", label)

	_, ok = table.At(2)
	assert.False(t, ok)
}
