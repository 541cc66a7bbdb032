package sticker

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimal lossless WebP: VP8L chunk encoding a 16x16 canvas header
func makeTestWebP(t *testing.T, extraChunks ...[]byte) []byte {
	t.Helper()

	vp8l := []byte{0x2f, 0x0f, 0xc0, 0x03, 0x00}
	payload := writeChunk("VP8L", vp8l)
	for _, c := range extraChunks {
		payload = append(payload, c...)
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+len(payload)))
	buf.WriteString("WEBP")
	buf.Write(payload)
	return buf.Bytes()
}

func TestSniffWebP(t *testing.T) {
	isWebP, animated := SniffWebP(makeTestWebP(t))
	assert.True(t, isWebP)
	assert.False(t, animated)

	isWebP, animated = SniffWebP(makeTestWebP(t, writeChunk("ANIM", make([]byte, 6))))
	assert.True(t, isWebP)
	assert.True(t, animated)

	isWebP, _ = SniffWebP([]byte("\x89PNG\r\n\x1a\n"))
	assert.False(t, isWebP)

	isWebP, _ = SniffWebP(nil)
	assert.False(t, isWebP)
}

func findChunk(t *testing.T, data []byte, fourCC string) []byte {
	t.Helper()
	chunks, err := splitChunks(data)
	require.NoError(t, err)
	for _, ch := range chunks {
		if ch.fourCC == fourCC {
			return ch.payload
		}
	}
	return nil
}

func TestInjectMetadataAddsExifAndVP8X(t *testing.T) {
	meta := Metadata{PackID: "aeon-pack", PackName: "Aeon", Publisher: "aeon", Emojis: []string{"🔥"}}

	out, err := InjectMetadata(makeTestWebP(t), meta)
	require.NoError(t, err)

	isWebP, _ := SniffWebP(out)
	require.True(t, isWebP, "output must remain a valid webp container")

	vp8x := findChunk(t, out, "VP8X")
	require.NotNil(t, vp8x)
	assert.NotZero(t, vp8x[0]&vp8xExifFlag, "VP8X must advertise the EXIF chunk")

	exif := findChunk(t, out, "EXIF")
	require.NotNil(t, exif)
	require.Greater(t, len(exif), 22)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(exif[22:], &doc))
	assert.Equal(t, "aeon-pack", doc["sticker-pack-id"])
	assert.Equal(t, "Aeon", doc["sticker-pack-name"])
	assert.Equal(t, "aeon", doc["sticker-pack-publisher"])
	assert.Equal(t, []interface{}{"🔥"}, doc["emojis"])

	count := binary.LittleEndian.Uint32(exif[14:18])
	assert.Equal(t, uint32(len(exif)-22), count, "TIFF entry count must match the JSON length")
}

func TestInjectMetadataReplacesExistingExif(t *testing.T) {
	stale := writeChunk("EXIF", []byte("stale-metadata"))
	out, err := InjectMetadata(makeTestWebP(t, stale), Metadata{PackName: "Aeon"})
	require.NoError(t, err)

	chunks, err := splitChunks(out)
	require.NoError(t, err)

	var exifCount int
	for _, ch := range chunks {
		if ch.fourCC == "EXIF" {
			exifCount++
			assert.NotContains(t, string(ch.payload), "stale-metadata")
		}
	}
	assert.Equal(t, 1, exifCount)
}

func TestInjectMetadataPreservesCanvasSize(t *testing.T) {
	out, err := InjectMetadata(makeTestWebP(t), Metadata{PackName: "Aeon"})
	require.NoError(t, err)

	vp8x := findChunk(t, out, "VP8X")
	require.NotNil(t, vp8x)
	require.Len(t, vp8x, 10)

	w := uint32(vp8x[4]) | uint32(vp8x[5])<<8 | uint32(vp8x[6])<<16
	h := uint32(vp8x[7]) | uint32(vp8x[8])<<8 | uint32(vp8x[9])<<16
	assert.Equal(t, uint32(16), w+1)
	assert.Equal(t, uint32(16), h+1)
}

func TestInjectMetadataRejectsNonWebP(t *testing.T) {
	_, err := InjectMetadata([]byte("not a webp"), Metadata{})
	assert.Error(t, err)
}

func TestInjectMetadataNilEmojis(t *testing.T) {
	out, err := InjectMetadata(makeTestWebP(t), Metadata{PackName: "Aeon"})
	require.NoError(t, err)

	exif := findChunk(t, out, "EXIF")
	require.NotNil(t, exif)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(exif[22:], &doc))
	assert.Equal(t, []interface{}{}, doc["emojis"], "emojis must serialize as an empty array, not null")
}
