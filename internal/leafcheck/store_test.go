package leafcheck

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestThresholdStore_Defaults(t *testing.T) {
	store := NewThresholdStore(filepath.Join(t.TempDir(), "missing.json"), DefaultThresholds())
	assert.Equal(t, DefaultThresholds(), store.Get())

	memory := NewThresholdStore("", DefaultThresholds())
	got, err := memory.Update(Patch{HMin: intPtr(30)})
	require.NoError(t, err)
	assert.Equal(t, 30, got.HMin)
}

func TestThresholdStore_PartialUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store := NewThresholdStore(path, DefaultThresholds())

	got, err := store.Update(Patch{SMin: intPtr(60), MinProportion: floatPtr(0.1)})
	require.NoError(t, err)

	want := DefaultThresholds()
	want.SMin = 60
	want.MinProportion = 0.1
	assert.Equal(t, want, got)
	assert.Equal(t, want, store.Get())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var persisted map[string]any
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.EqualValues(t, 60, persisted["S_MIN"])
	assert.EqualValues(t, 25, persisted["GREEN_H_MIN"])
	assert.InDelta(t, 0.1, persisted["GREEN_PROP_THRESH"], 1e-9)

	reopened := NewThresholdStore(path, DefaultThresholds())
	assert.Equal(t, want, reopened.Get())
}

func TestThresholdStore_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store := NewThresholdStore(path, DefaultThresholds())

	_, err := store.Update(Patch{HMin: intPtr(200)})
	assert.Error(t, err)
	assert.Equal(t, DefaultThresholds(), store.Get())

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "nothing persisted")
}

func TestThresholdStore_IgnoresCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewThresholdStore(path, DefaultThresholds())
	assert.Equal(t, DefaultThresholds(), store.Get())
}

func TestThresholdStore_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"V_MIN": 70}`), 0o600))

	store := NewThresholdStore(path, DefaultThresholds())
	got := store.Get()
	assert.Equal(t, 70, got.VMin)
	assert.Equal(t, 25, got.HMin)
}

func TestThresholdStore_Concurrent(t *testing.T) {
	store := NewThresholdStore(filepath.Join(t.TempDir(), "config.json"), DefaultThresholds())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(v int) {
			defer wg.Done()
			_, _ = store.Update(Patch{VMin: intPtr(40 + v)})
		}(i)
		go func() {
			defer wg.Done()
			_ = store.Get()
		}()
	}
	wg.Wait()

	got := store.Get().VMin
	assert.GreaterOrEqual(t, got, 40)
	assert.Less(t, got, 60)
}

func TestPatch_IsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{HMax: intPtr(90)}.IsEmpty())
}

func TestPatch_UnmarshalCoercesNumbers(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"GREEN_H_MIN": 30.0, "GREEN_H_MAX": 95.7, "S_MIN": "45", "GREEN_PROP_THRESH": "0.05", "OTHER": true}`), &p))

	require.NotNil(t, p.HMin)
	assert.Equal(t, 30, *p.HMin)
	assert.Equal(t, 95, *p.HMax)
	assert.Equal(t, 45, *p.SMin)
	assert.Nil(t, p.VMin)
	assert.InDelta(t, 0.05, *p.MinProportion, 1e-12)

	var unknownOnly Patch
	require.NoError(t, json.Unmarshal([]byte(`{"OTHER": 1}`), &unknownOnly))
	assert.True(t, unknownOnly.IsEmpty())

	for _, payload := range []string{`{"V_MIN": "high"}`, `{"V_MIN": null}`, `{"S_MIN": [1]}`, `{"GREEN_PROP_THRESH": "x"}`, `[1]`} {
		var bad Patch
		assert.Error(t, json.Unmarshal([]byte(payload), &bad), payload)
	}
}
