package audio

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/pedscribe/pedscribe/internal/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, r *fakeRunner, p *fakeProber, maxSize int64) *Chunker {
	t.Helper()
	g, err := NewSizeGuard(r, maxSize)
	require.Nil(t, err)
	res, err := NewChunker(r, p, g)
	require.Nil(t, err)
	return res
}

func TestChunkDuration(t *testing.T) {
	tests := []struct {
		name string
		size int64
		d    time.Duration
		want time.Duration
	}{
		{name: "clamps max", size: 30 * mb, d: 35 * time.Minute, want: MaxChunkDuration},
		{name: "clamps min", size: 100 * mb, d: 20 * time.Minute, want: MinChunkDuration},
		{name: "middle", size: 50 * mb, d: 25 * time.Minute, want: 10 * time.Minute},
		{name: "unknown duration", size: 50 * mb, d: 0, want: MaxChunkDuration},
		{name: "empty", size: 0, d: time.Minute, want: MaxChunkDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chunkDuration(tt.size, tt.d, TargetChunkSize, MinChunkDuration, MaxChunkDuration))
		})
	}
}

func TestOptimalChunkDuration_EstimatesWhenNoDuration(t *testing.T) {
	dir := t.TempDir()
	c := newTestChunker(t, &fakeRunner{}, &fakeProber{err: errors.New("no duration")}, 25*mb)
	// estimated at 1MB per minute, so 20MB target gives 20 minutes clamped to 15
	got, err := c.OptimalChunkDuration(test.Ctx(t), makeFile(t, dir, "in.mp3", 40*mb))
	require.Nil(t, err)
	assert.Equal(t, MaxChunkDuration, got)
}

func TestSplit_KnownDuration(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{sizeFunc: func(int, []string) int64 { return 5 * mb }}
	c := newTestChunker(t, r, &fakeProber{d: 35 * time.Minute}, 25*mb)
	in := makeFile(t, dir, "in.mp3", 30*mb)

	res, err := c.Split(test.Ctx(t), in, 15*time.Minute, dir)

	require.Nil(t, err)
	require.Len(t, res, 3)
	var total time.Duration
	for i, ch := range res {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, time.Duration(i)*15*time.Minute, ch.Start)
		assert.FileExists(t, ch.Path)
		total += ch.Duration
	}
	assert.Equal(t, 5*time.Minute, res[2].Duration)
	assert.Equal(t, 35*time.Minute, total)
	assert.Equal(t, "1800.000", argValue(r.calls[2], "-ss"))
	assert.Equal(t, "300.000", argValue(r.calls[2], "-t"))
}

func TestSplit_KnownDurationKeepsTinyTail(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{sizeFunc: func(_ int, args []string) int64 {
		if argValue(args, "-ss") == "900.000" {
			return 8 * 1024
		}
		return 2 * mb
	}}
	c := newTestChunker(t, r, &fakeProber{d: 15*time.Minute + time.Second}, 25*mb)

	res, err := c.Split(test.Ctx(t), makeFile(t, dir, "in.mp3", 8*mb), 5*time.Minute, dir)

	require.Nil(t, err)
	require.Len(t, res, 4)
	var total time.Duration
	for _, ch := range res {
		total += ch.Duration
	}
	assert.Equal(t, 15*time.Minute+time.Second, total)
	assert.Equal(t, time.Second, res[3].Duration)
	assert.FileExists(t, res[3].Path)
}

func TestSplit_ExactMultiple(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{sizeFunc: func(int, []string) int64 { return 5 * mb }}
	c := newTestChunker(t, r, &fakeProber{d: 30 * time.Minute}, 25*mb)
	res, err := c.Split(test.Ctx(t), makeFile(t, dir, "in.mp3", 30*mb), 15*time.Minute, dir)
	require.Nil(t, err)
	assert.Len(t, res, 2)
}

func TestSplit_UnknownDurationStopsOnTinyChunk(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{sizeFunc: func(call int, _ []string) int64 {
		if call < 4 {
			return 20 * 1024
		}
		return 1024
	}}
	c := newTestChunker(t, r, &fakeProber{}, 25*mb)
	in := makeFile(t, dir, "in.mp3", 3*mb)

	res, err := c.Split(test.Ctx(t), in, time.Minute, dir)

	require.Nil(t, err)
	assert.Len(t, res, 4)
	assert.Len(t, r.calls, 5)
	assert.Len(t, filesIn(t, dir), 5)
}

func TestSplit_UnknownDurationIsBounded(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{sizeFunc: func(int, []string) int64 { return 20 * 1024 }}
	c := newTestChunker(t, r, &fakeProber{}, 25*mb)

	res, err := c.Split(test.Ctx(t), makeFile(t, dir, "in.mp3", 3*mb), time.Minute, dir)

	require.Nil(t, err)
	// 3MB estimates 3 minutes
	assert.Len(t, res, UnknownDurationFactor*3+1)
}

func TestSplit_RecompressesOversizedChunk(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{sizeFunc: func(_ int, args []string) int64 {
		if isExtract(args) {
			return 200 * 1024
		}
		if kbpsOf(args) == 48 {
			return 150 * 1024
		}
		return 50 * 1024
	}}
	c := newTestChunker(t, r, &fakeProber{d: time.Minute}, 100*1024)

	res, err := c.Split(test.Ctx(t), makeFile(t, dir, "in.mp3", 300*1024), time.Minute, dir)

	require.Nil(t, err)
	require.Len(t, res, 1)
	st, err := os.Stat(res[0].Path)
	require.Nil(t, err)
	assert.Equal(t, int64(50*1024), st.Size())
	assert.ElementsMatch(t, []string{"in.mp3", "chunk_000.mp3"}, filesIn(t, dir))
}

func TestSplit_TooLargeCleansUp(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{sizeFunc: func(_ int, args []string) int64 {
		if isExtract(args) && argValue(args, "-ss") == "0.000" {
			return 50 * 1024
		}
		return 200 * 1024
	}}
	c := newTestChunker(t, r, &fakeProber{d: 2 * time.Minute}, 100*1024)

	res, err := c.Split(test.Ctx(t), makeFile(t, dir, "in.mp3", 300*1024), time.Minute, dir)

	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.Nil(t, res)
	assert.Equal(t, []string{"in.mp3"}, filesIn(t, dir))
}

func TestSplit_RunnerFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{sizeFunc: func(call int, _ []string) int64 { return 20 * 1024 }}
	c := newTestChunker(t, r, &fakeProber{d: 3 * time.Minute}, 25*mb)
	in := makeFile(t, dir, "in.mp3", 3*mb)
	res, err := c.Split(test.Ctx(t), in, time.Minute, dir)
	require.Nil(t, err)
	require.Len(t, res, 3)
	Cleanup(res)
	assert.Equal(t, []string{"in.mp3"}, filesIn(t, dir))

	r.err = errors.New("olia")
	_, err = c.Split(test.Ctx(t), in, time.Minute, dir)
	assert.NotNil(t, err)
	assert.Equal(t, []string{"in.mp3"}, filesIn(t, dir))
}

func TestSplit_WrongChunkLen(t *testing.T) {
	dir := t.TempDir()
	c := newTestChunker(t, &fakeRunner{}, &fakeProber{d: time.Minute}, 25*mb)
	_, err := c.Split(test.Ctx(t), makeFile(t, dir, "in.mp3", mb), 0, dir)
	assert.NotNil(t, err)
}
