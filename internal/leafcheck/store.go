package leafcheck

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/anime-shed/leaf-inspector-go/internal/logger"
)

// Patch updates a subset of thresholds; nil fields are left alone. Values
// may arrive as JSON numbers or numeric strings; integer thresholds given
// as fractions are truncated.
type Patch struct {
	HMin          *int     `json:"GREEN_H_MIN,omitempty"`
	HMax          *int     `json:"GREEN_H_MAX,omitempty"`
	SMin          *int     `json:"S_MIN,omitempty"`
	VMin          *int     `json:"V_MIN,omitempty"`
	MinProportion *float64 `json:"GREEN_PROP_THRESH,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p Patch) IsEmpty() bool {
	return p.HMin == nil && p.HMax == nil && p.SMin == nil && p.VMin == nil && p.MinProportion == nil
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for _, f := range []struct {
		key   string
		field **int
	}{
		{"GREEN_H_MIN", &p.HMin},
		{"GREEN_H_MAX", &p.HMax},
		{"S_MIN", &p.SMin},
		{"V_MIN", &p.VMin},
	} {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		n, err := coerceInt(v)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.field = &n
	}

	if v, ok := raw["GREEN_PROP_THRESH"]; ok {
		x, err := coerceFloat(v)
		if err != nil {
			return fmt.Errorf("GREEN_PROP_THRESH: %w", err)
		}
		p.MinProportion = &x
	}
	return nil
}

func coerceInt(v json.RawMessage) (int, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", s)
		}
		return n, nil
	}
	var num json.Number
	if err := json.Unmarshal(v, &num); err != nil {
		return 0, fmt.Errorf("expected a number, got %s", v)
	}
	if n, err := num.Int64(); err == nil {
		return int(n), nil
	}
	f, err := num.Float64()
	if err != nil || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%s is out of range", num)
	}
	return int(f), nil
}

func coerceFloat(v json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", s)
		}
		return f, nil
	}
	var num json.Number
	if err := json.Unmarshal(v, &num); err != nil {
		return 0, fmt.Errorf("expected a number, got %s", v)
	}
	return num.Float64()
}

func (p Patch) apply(t Thresholds) Thresholds {
	if p.HMin != nil {
		t.HMin = *p.HMin
	}
	if p.HMax != nil {
		t.HMax = *p.HMax
	}
	if p.SMin != nil {
		t.SMin = *p.SMin
	}
	if p.VMin != nil {
		t.VMin = *p.VMin
	}
	if p.MinProportion != nil {
		t.MinProportion = *p.MinProportion
	}
	return t
}

// ThresholdStore holds the live thresholds and persists admin changes to
// a JSON file. Safe for concurrent use.
type ThresholdStore struct {
	mu      sync.RWMutex
	path    string
	current Thresholds
}

// NewThresholdStore starts from defaults and applies any values persisted
// at path. An unreadable or invalid file is logged and ignored.
func NewThresholdStore(path string, defaults Thresholds) *ThresholdStore {
	store := &ThresholdStore{path: path, current: defaults}
	if path == "" {
		return store
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.WithError(err).WithField("path", path).Warn("Failed to read leaf thresholds, using defaults")
		}
		return store
	}

	var patch Patch
	if err := json.Unmarshal(data, &patch); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Invalid leaf thresholds file, using defaults")
		return store
	}

	loaded := patch.apply(defaults)
	if err := loaded.Validate(); err != nil {
		logger.WithError(err).WithField("path", path).Warn("Persisted leaf thresholds out of range, using defaults")
		return store
	}
	store.current = loaded
	return store
}

func (s *ThresholdStore) Get() Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and applies a patch, then persists the full set
func (s *ThresholdStore) Update(patch Patch) (Thresholds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.apply(s.current)
	if err := next.Validate(); err != nil {
		return s.current, err
	}

	if err := s.save(next); err != nil {
		return s.current, err
	}
	s.current = next
	return next, nil
}

func (s *ThresholdStore) save(t Thresholds) error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode thresholds: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".thresholds-*.json")
	if err != nil {
		return fmt.Errorf("failed to persist thresholds: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist thresholds: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist thresholds: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to persist thresholds: %w", err)
	}
	return nil
}
