package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingIsFresh(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Equal(t, -1, st.LastBatch)
	assert.Equal(t, 0, st.AppliedCount())
	assert.False(t, st.IsApplied("123456789"))
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")

	st := Fresh(path)
	st.RunID = "run-1"
	st.Source = "a.csv"
	st.MarkApplied(0, []string{"123456789", "000000042"})
	st.MarkApplied(1, []string{"555555555"})
	require.NoError(t, st.Save())

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 1, got.LastBatch)
	assert.Equal(t, 3, got.AppliedCount())
	assert.True(t, got.IsApplied("123456789"))
	assert.True(t, got.IsApplied("555555555"))
	assert.False(t, got.IsApplied("999999999"))
}

func TestReloadIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	st := Fresh(path)
	st.MarkApplied(0, []string{"123456789"})
	require.NoError(t, st.Save())

	first, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, first.Save())

	second, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, first.Applied, second.Applied)
	assert.Equal(t, first.LastBatch, second.LastBatch)
}

func TestSaveNoPathIsNoop(t *testing.T) {
	st := Fresh("")
	st.MarkApplied(0, []string{"123456789"})
	assert.NoError(t, st.Save())
}
