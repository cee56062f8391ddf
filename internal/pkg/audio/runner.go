package audio

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pkg/errors"
)

// Runner executes an external media tool
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CmdRunner runs a binary and returns its stdout
type CmdRunner struct {
	path string
}

// NewCmdRunner checks that the binary is available
func NewCmdRunner(path string) (*CmdRunner, error) {
	if path == "" {
		return nil, fmt.Errorf("no command")
	}
	p, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("can't find '%s': %w", path, err)
	}
	goapp.Log.Info().Str("path", p).Msg("cmd")
	return &CmdRunner{path: p}, nil
}

// Run executes the command, stderr is attached to the returned error
func (r *CmdRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	goapp.Log.Debug().Str("cmd", r.path).Strs("args", args).Msg("run")
	cmd := exec.CommandContext(ctx, r.path, args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrap(err, "output: "+tail(errOut.String(), 1000))
	}
	return out.Bytes(), nil
}

func tail(s string, l int) string {
	if len(s) > l {
		return s[len(s)-l:]
	}
	return s
}

// Prober reads media duration with ffprobe
type Prober struct {
	runner Runner
}

// NewProber creates a duration prober
func NewProber(r Runner) (*Prober, error) {
	if r == nil {
		return nil, fmt.Errorf("no runner")
	}
	return &Prober{runner: r}, nil
}

// Duration returns 0 when the container does not report a usable duration
func (p *Prober) Duration(ctx context.Context, file string) (time.Duration, error) {
	out, err := p.runner.Run(ctx, "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", file)
	if err != nil {
		return 0, fmt.Errorf("can't probe '%s': %w", file, err)
	}
	return parseDuration(string(out)), nil
}

func parseDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
