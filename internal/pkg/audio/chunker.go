package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

const (
	// TargetChunkSize leaves headroom under the engine limit
	TargetChunkSize int64 = 20 * 1024 * 1024
	// MinChunkDuration lower bound of one chunk
	MinChunkDuration = 5 * time.Minute
	// MaxChunkDuration upper bound of one chunk
	MaxChunkDuration = 15 * time.Minute
	// MinViableChunkSize smaller chunks are treated as end of audio when the duration is estimated
	MinViableChunkSize int64 = 10 * 1024
	// UnknownDurationFactor bounds the chunk count of an estimated duration,
	// speech encodes well below EstimateDuration's rate
	UnknownDurationFactor = 3
)

// DurationProber returns media duration, 0 if unknown
type DurationProber interface {
	Duration(ctx context.Context, file string) (time.Duration, error)
}

// Chunk is a time slice of a larger recording saved to a local file
type Chunk struct {
	Path     string
	Index    int
	Start    time.Duration
	Duration time.Duration
}

// Chunker splits audio into independently transcribable parts
type Chunker struct {
	runner     Runner
	prober     DurationProber
	guard      *SizeGuard
	targetSize int64
	minChunk   time.Duration
	maxChunk   time.Duration
	minViable  int64
}

// NewChunker creates chunker
func NewChunker(r Runner, p DurationProber, g *SizeGuard) (*Chunker, error) {
	if r == nil {
		return nil, fmt.Errorf("no ffmpeg runner")
	}
	if p == nil {
		return nil, fmt.Errorf("no duration prober")
	}
	if g == nil {
		return nil, fmt.Errorf("no size guard")
	}
	return &Chunker{runner: r, prober: p, guard: g, targetSize: TargetChunkSize,
		minChunk: MinChunkDuration, maxChunk: MaxChunkDuration, minViable: MinViableChunkSize}, nil
}

// OptimalChunkDuration calculates chunk length so one chunk is about TargetChunkSize
func (c *Chunker) OptimalChunkDuration(ctx context.Context, file string) (time.Duration, error) {
	size, err := fileSize(file)
	if err != nil {
		return 0, err
	}
	d, _ := c.duration(ctx, file, size)
	res := chunkDuration(size, d, c.targetSize, c.minChunk, c.maxChunk)
	goapp.Log.Info().Int64("size", size).Dur("duration", d).Dur("chunk", res).Msg("chunk duration")
	return res, nil
}

func chunkDuration(size int64, d time.Duration, target int64, min, max time.Duration) time.Duration {
	if size <= 0 || d <= 0 {
		return max
	}
	bytesPerSec := float64(size) / d.Seconds()
	res := time.Duration(float64(target) / bytesPerSec * float64(time.Second)).Round(time.Second)
	if res < min {
		return min
	}
	if res > max {
		return max
	}
	return res
}

// Split cuts file into chunkLen slices saved to dir.
// A known duration D gives ceil(D/chunkLen) chunks covering D.
// When the duration is unknown it runs until a produced chunk is smaller than MinViableChunkSize,
// at most UnknownDurationFactor times the estimated count.
// On error all produced chunks are removed.
func (c *Chunker) Split(ctx context.Context, file string, chunkLen time.Duration, dir string) ([]*Chunk, error) {
	defer goapp.Estimate("split")()
	if chunkLen <= 0 {
		return nil, fmt.Errorf("wrong chunk duration %v", chunkLen)
	}
	size, err := fileSize(file)
	if err != nil {
		return nil, err
	}
	total, known := c.duration(ctx, file, size)
	n := int((total + chunkLen - 1) / chunkLen)
	limit := n
	if !known {
		limit = UnknownDurationFactor*n + 1
	}
	goapp.Log.Info().Dur("total", total).Bool("known", known).Int("expected", n).Msg("splitting")

	res := []*Chunk{}
	ok, ended := false, known
	defer func() {
		if !ok {
			Cleanup(res)
		}
	}()
	for i := 0; i < limit; i++ {
		ch := &Chunk{Path: filepath.Join(dir, fmt.Sprintf("chunk_%03d.mp3", i)), Index: i,
			Start: time.Duration(i) * chunkLen, Duration: chunkLen}
		if known {
			if ch.Start >= total {
				break
			}
			if ch.Start+ch.Duration > total {
				ch.Duration = total - ch.Start
			}
		}
		cSize, err := c.extract(ctx, file, ch)
		if err != nil {
			_ = os.Remove(ch.Path)
			return nil, err
		}
		if !known && cSize < c.minViable {
			goapp.Log.Info().Int("index", i).Int64("size", cSize).Msg("tiny chunk, end of audio")
			_ = os.Remove(ch.Path)
			ended = true
			break
		}
		if cSize > c.guard.MaxSize() {
			if err := c.recompress(ctx, ch); err != nil {
				return nil, fmt.Errorf("chunk %d: %w", i, err)
			}
		}
		res = append(res, ch)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("no audio chunks produced")
	}
	if !ended {
		goapp.Log.Warn().Int("chunks", len(res)).Dur("covered", time.Duration(len(res))*chunkLen).
			Msg("chunk limit reached before the end of audio, the rest is not transcribed")
	}
	ok = true
	return res, nil
}

func (c *Chunker) duration(ctx context.Context, file string, size int64) (time.Duration, bool) {
	d, err := c.prober.Duration(ctx, file)
	if err != nil {
		goapp.Log.Warn().Err(err).Msg("can't get duration, will estimate")
	}
	if err == nil && d > 0 {
		return d, true
	}
	return EstimateDuration(size), false
}

func (c *Chunker) extract(ctx context.Context, file string, ch *Chunk) (int64, error) {
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(ch.Start), "-t", seconds(ch.Duration), "-i", file}
	args = append(args, encodeArgs(DefaultBitrate)...)
	if _, err := c.runner.Run(ctx, append(args, ch.Path)...); err != nil {
		return 0, fmt.Errorf("can't extract chunk %d: %w", ch.Index, err)
	}
	return fileSize(ch.Path)
}

func (c *Chunker) recompress(ctx context.Context, ch *Chunk) error {
	src := ch.Path + ".src"
	if err := os.Rename(ch.Path, src); err != nil {
		return fmt.Errorf("can't rename: %w", err)
	}
	defer os.Remove(src)
	_, _, err := c.guard.CompressProgressive(ctx, src, ch.Path, LowerCandidates(DefaultBitrate))
	return err
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// Cleanup removes chunk files, errors are only logged
func Cleanup(chunks []*Chunk) {
	for _, ch := range chunks {
		ch.Remove()
	}
}

// Remove deletes the chunk file if it still exists
func (ch *Chunk) Remove() {
	if err := os.Remove(ch.Path); err != nil && !os.IsNotExist(err) {
		goapp.Log.Warn().Err(err).Str("file", ch.Path).Msg("can't remove chunk")
	}
}
