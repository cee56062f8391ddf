package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRunner writes the output file (last arg) with a size chosen by sizeFunc
type fakeRunner struct {
	lock     sync.Mutex
	calls    [][]string
	sizeFunc func(call int, args []string) int64
	err      error
	out      []byte
}

func (r *fakeRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.calls = append(r.calls, args)
	if r.err != nil {
		return nil, r.err
	}
	if r.sizeFunc != nil {
		f, err := os.Create(args[len(args)-1])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := f.Truncate(r.sizeFunc(len(r.calls)-1, args)); err != nil {
			return nil, err
		}
	}
	return r.out, nil
}

type fakeProber struct {
	d   time.Duration
	err error
}

func (p *fakeProber) Duration(ctx context.Context, file string) (time.Duration, error) {
	return p.d, p.err
}

func argValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func kbpsOf(args []string) int {
	var res int
	_, _ = fmt.Sscanf(strings.TrimSuffix(argValue(args, "-b:a"), "k"), "%d", &res)
	return res
}

func isExtract(args []string) bool {
	return argValue(args, "-ss") != ""
}

func makeFile(t *testing.T, dir, name string, size int64) string {
	t.Helper()
	res := filepath.Join(dir, name)
	f, err := os.Create(res)
	require.Nil(t, err)
	require.Nil(t, f.Truncate(size))
	require.Nil(t, f.Close())
	return res
}

func filesIn(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.Nil(t, err)
	res := []string{}
	for _, e := range entries {
		res = append(res, e.Name())
	}
	return res
}
