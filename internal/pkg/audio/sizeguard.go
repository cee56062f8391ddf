package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

const (
	// DefaultMaxSize is the transcription engine upload limit
	DefaultMaxSize int64 = 25 * 1024 * 1024
	// DefaultBitrate used for speech compression, kbps
	DefaultBitrate = 64
	// MinBitrate kbps
	MinBitrate = 32
	// MaxBitrate kbps
	MaxBitrate = 128
	// SampleRate of compressed speech
	SampleRate = 16000
)

// BitrateCandidates are tried from the highest down until the output fits
var BitrateCandidates = []int{96, 64, 48, 32}

// ErrTooLarge indicates audio that can't be brought under the size ceiling
var ErrTooLarge = errors.New("audio too large")

// SizeGuard checks and reduces audio size with ffmpeg
type SizeGuard struct {
	runner  Runner
	maxSize int64
}

// NewSizeGuard creates a guard, maxSize <= 0 means DefaultMaxSize
func NewSizeGuard(r Runner, maxSize int64) (*SizeGuard, error) {
	if r == nil {
		return nil, fmt.Errorf("no ffmpeg runner")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	goapp.Log.Info().Int64("maxSize", maxSize).Msg("audio size guard")
	return &SizeGuard{runner: r, maxSize: maxSize}, nil
}

// MaxSize returns the ceiling in bytes
func (g *SizeGuard) MaxSize() int64 {
	return g.maxSize
}

// NeedsCompression returns true if file is larger than the ceiling
func (g *SizeGuard) NeedsCompression(file string) (bool, error) {
	size, err := fileSize(file)
	if err != nil {
		return false, err
	}
	return size > g.maxSize, nil
}

// Compress encodes in to mono 16kHz mp3 at DefaultBitrate.
// Returns ErrTooLarge together with the size if the result still exceeds the ceiling.
func (g *SizeGuard) Compress(ctx context.Context, in, out string) (int64, error) {
	defer goapp.Estimate("compress")()
	size, err := g.encode(ctx, in, out, DefaultBitrate)
	if err != nil {
		return 0, err
	}
	goapp.Log.Info().Str("file", out).Int64("size", size).Msg("compressed")
	if size > g.maxSize {
		return size, fmt.Errorf("%w: compressed size %d > %d", ErrTooLarge, size, g.maxSize)
	}
	return size, nil
}

// CompressProgressive searches the descending candidates list for the highest bitrate
// whose output fits under the ceiling. The chosen encoding is left in out.
func (g *SizeGuard) CompressProgressive(ctx context.Context, in, out string, candidates []int) (int64, int, error) {
	if len(candidates) == 0 {
		return 0, 0, fmt.Errorf("no bitrate candidates")
	}
	tmp := func(kbps int) string { return fmt.Sprintf("%s.%d.tmp", out, kbps) }
	sizes := map[int]int64{}
	defer func() {
		for kbps := range sizes {
			_ = os.Remove(tmp(kbps))
		}
	}()
	best := -1
	lo, hi := 0, len(candidates)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		size, err := g.encode(ctx, in, tmp(candidates[mid]), candidates[mid])
		if err != nil {
			return 0, 0, err
		}
		sizes[candidates[mid]] = size
		if size <= g.maxSize {
			best = mid
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	if best < 0 {
		last := candidates[len(candidates)-1]
		return sizes[last], last, fmt.Errorf("%w: %d bytes at %dkbps > %d", ErrTooLarge, sizes[last], last, g.maxSize)
	}
	kbps := candidates[best]
	if err := os.Rename(tmp(kbps), out); err != nil {
		return 0, 0, fmt.Errorf("can't rename: %w", err)
	}
	size := sizes[kbps]
	delete(sizes, kbps)
	goapp.Log.Info().Str("file", out).Int("kbps", kbps).Int64("size", size).Msg("compressed progressively")
	return size, kbps, nil
}

func (g *SizeGuard) encode(ctx context.Context, in, out string, kbps int) (int64, error) {
	args := append([]string{"-y", "-hide_banner", "-loglevel", "error", "-i", in}, encodeArgs(kbps)...)
	if _, err := g.runner.Run(ctx, append(args, out)...); err != nil {
		return 0, fmt.Errorf("can't encode '%s': %w", in, err)
	}
	return fileSize(out)
}

func encodeArgs(kbps int) []string {
	return []string{"-vn", "-ac", "1", "-ar", fmt.Sprintf("%d", SampleRate), "-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", kbps), "-f", "mp3"}
}

// EstimateBitrate returns kbps that makes an audio of duration fit targetSize, clamped to [MinBitrate, MaxBitrate]
func EstimateBitrate(duration time.Duration, targetSize int64) int {
	if duration <= 0 {
		return DefaultBitrate
	}
	kbps := int(float64(targetSize) * 8 / 1000 / duration.Seconds())
	if kbps < MinBitrate {
		return MinBitrate
	}
	if kbps > MaxBitrate {
		return MaxBitrate
	}
	return kbps
}

// LowerCandidates returns the candidates below kbps
func LowerCandidates(kbps int) []int {
	res := []int{}
	for _, c := range BitrateCandidates {
		if c < kbps {
			res = append(res, c)
		}
	}
	return res
}

func fileSize(file string) (int64, error) {
	st, err := os.Stat(file)
	if err != nil {
		return 0, fmt.Errorf("can't stat '%s': %w", file, err)
	}
	return st.Size(), nil
}
