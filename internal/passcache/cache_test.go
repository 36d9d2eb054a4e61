package passcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pz26/confpass/internal/models"
)

func sample() models.Registration {
	return models.Registration{
		RegID:        "PZ26-OCP-000007",
		Email:        "asha@example.com",
		FullName:     "Asha Rao",
		Phone:        "+919876543210",
		College:      "OCP",
		QRText:       "PZ26|PZ26-OCP-000007|asha@example.com",
		UID:          "u-1",
		AuthProvider: "password",
		Serial:       7,
	}
}

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pass.json")
	c := New(path, nil)
	fixed := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	_, ok := c.Load()
	assert.False(t, ok)

	require.NoError(t, c.Save(sample()))
	rec, ok := c.Load()
	require.True(t, ok)
	assert.Equal(t, sample(), rec.Registration)
	assert.Equal(t, fixed, rec.SavedAt)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, c.Clear())
	_, ok = c.Load()
	assert.False(t, ok)
	require.NoError(t, c.Clear())
}

func TestSaveOverwritesSingleSlot(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "pass.json"), nil)
	require.NoError(t, c.Save(sample()))

	other := sample()
	other.RegID = "PZ26-OCP-000008"
	other.Serial = 8
	require.NoError(t, c.Save(other))

	rec, ok := c.Load()
	require.True(t, ok)
	assert.Equal(t, "PZ26-OCP-000008", rec.Registration.RegID)

	entries, err := os.ReadDir(filepath.Dir(c.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCorruptFileReadsAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pass.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, ok := New(path, nil).Load()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte(`{"reg_id":""}`), 0600))
	_, ok = New(path, nil).Load()
	assert.False(t, ok)
}
