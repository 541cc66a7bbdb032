package sticker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStampFallsBackOnBadContainer(t *testing.T) {
	c := NewConverter()

	// a non-webp payload cannot take metadata; the original bytes survive
	raw := []byte("not-a-webp")
	out, err := c.stamp(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestStampInjectsPackMetadata(t *testing.T) {
	c := NewConverter()

	out, err := c.stamp(makeTestWebP(t), []string{"😀"})
	require.NoError(t, err)

	exif := findChunk(t, out, "EXIF")
	assert.NotNil(t, exif)
}

func TestWriteTempCleanup(t *testing.T) {
	c := NewConverter().withTmpDir(t.TempDir())

	path, cleanup, err := c.writeTemp([]byte("payload"), "unit-*.bin")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
