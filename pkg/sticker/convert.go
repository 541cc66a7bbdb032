// Package sticker converts images and short videos into WhatsApp sticker
// WebP files via an ffmpeg subprocess, then stamps pack metadata into the
// container so clients show pack name and publisher.
package sticker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aeonbot/aeon/pkg/env"
	"github.com/aeonbot/aeon/pkg/log"
)

// maxStickerBytes keeps stickers safely under WhatsApp's 1MB limit.
const maxStickerBytes = 900 * 1024

const (
	convertTimeout   = 60 * time.Second
	animatedMaxSecs  = 6
	stickerImageVF   = "scale=512:512:force_original_aspect_ratio=decrease:flags=lanczos,format=rgba,pad=512:512:(512-iw)/2:(512-ih)/2:color=0x00000000"
	stickerVideoVFmt = "scale=512:512:force_original_aspect_ratio=decrease:flags=lanczos,fps=%d,format=rgba,pad=512:512:(512-iw)/2:(512-ih)/2:color=0x00000000"
)

// ErrTooLarge is returned when no ladder step fits under the size limit.
var ErrTooLarge = errors.New("sticker: output exceeds size limit at every quality step")

// Converter drives ffmpeg. The binary path comes from BOT_FFMPEG_PATH and
// falls back to the system PATH.
type Converter struct {
	ffmpegPath string
	tmpDir     string
	meta       Metadata
}

func NewConverter() *Converter {
	return &Converter{
		ffmpegPath: env.GetEnvStringOrDefault("BOT_FFMPEG_PATH", "ffmpeg"),
		tmpDir:     os.TempDir(),
		meta: Metadata{
			PackID:    env.GetEnvStringOrDefault("BOT_STICKER_PACK_ID", "aeon-pack"),
			PackName:  env.GetEnvStringOrDefault("BOT_STICKER_PACK_NAME", "Aeon"),
			Publisher: env.GetEnvStringOrDefault("BOT_STICKER_PACK_AUTHOR", "aeon"),
		},
	}
}

// FromImage converts a still image to a single-frame 512x512 WebP, walking
// down a quality ladder until the output fits under the size limit.
func (c *Converter) FromImage(ctx context.Context, data []byte, emojis []string) ([]byte, error) {
	input, cleanup, err := c.writeTemp(data, "sticker-in-*.img")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	output := input + ".webp"
	defer os.Remove(output)

	for _, quality := range []int{80, 70, 60, 50} {
		args := []string{
			"-y",
			"-i", input,
			"-vf", stickerImageVF,
			"-vcodec", "libwebp",
			"-lossless", "0",
			"-compression_level", "6",
			"-q:v", strconv.Itoa(quality),
			"-preset", "picture",
			"-an",
			"-vsync", "0",
			"-frames:v", "1",
			output,
		}
		if err := c.runFFmpeg(ctx, args); err != nil {
			return nil, err
		}

		webp, err := os.ReadFile(output)
		if err != nil {
			return nil, err
		}
		if len(webp) <= maxStickerBytes {
			return c.stamp(webp, emojis)
		}
		log.Print(nil).Warnf("Sticker is %d KB, retrying at lower quality", len(webp)/1024)
	}
	return nil, ErrTooLarge
}

// FromVideo converts a video to an animated WebP capped at 6 seconds. Each
// ladder step lowers frame rate and quality together.
func (c *Converter) FromVideo(ctx context.Context, data []byte, emojis []string) ([]byte, error) {
	input, cleanup, err := c.writeTemp(data, "sticker-in-*.mp4")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	output := input + ".webp"
	defer os.Remove(output)

	steps := []struct {
		fps     int
		quality int
		qv      int
	}{
		{fps: 15, quality: 78, qv: 68},
		{fps: 12, quality: 72, qv: 62},
		{fps: 10, quality: 68, qv: 58},
	}

	for _, step := range steps {
		args := []string{
			"-y",
			"-i", input,
			"-t", strconv.Itoa(animatedMaxSecs),
			"-vf", fmt.Sprintf(stickerVideoVFmt, step.fps),
			"-loop", "0",
			"-an",
			"-vsync", "0",
			"-c:v", "libwebp",
			"-quality", strconv.Itoa(step.quality),
			"-compression_level", "6",
			"-q:v", strconv.Itoa(step.qv),
			"-preset", "picture",
			output,
		}
		if err := c.runFFmpeg(ctx, args); err != nil {
			return nil, err
		}

		webp, err := os.ReadFile(output)
		if err != nil {
			return nil, err
		}
		if len(webp) <= maxStickerBytes {
			return c.stamp(webp, emojis)
		}
		log.Print(nil).Warnf("Animated sticker is %d KB, retrying at %d fps", len(webp)/1024, step.fps)
	}
	return nil, ErrTooLarge
}

func (c *Converter) stamp(webp []byte, emojis []string) ([]byte, error) {
	meta := c.meta
	meta.Emojis = emojis

	stamped, err := InjectMetadata(webp, meta)
	if err != nil {
		// metadata failure should not cost the user their sticker
		log.Print(nil).Warn("Sticker metadata injection failed: ", err)
		return webp, nil
	}
	return stamped, nil
}

func (c *Converter) writeTemp(data []byte, pattern string) (string, func(), error) {
	f, err := os.CreateTemp(c.tmpDir, pattern)
	if err != nil {
		return "", nil, err
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	return name, func() { os.Remove(name) }, nil
}

func (c *Converter) runFFmpeg(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("sticker: ffmpeg failed: %w: %s", err, tail(out, 512))
	}
	return nil
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

// tmpPath is here for tests that want an isolated scratch directory.
func (c *Converter) withTmpDir(dir string) *Converter {
	c.tmpDir = filepath.Clean(dir)
	return c
}
