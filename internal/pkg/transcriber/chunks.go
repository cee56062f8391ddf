package transcriber

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pedscribe/pedscribe/internal/pkg/audio"
	tapi "github.com/pedscribe/pedscribe/internal/pkg/transcriber/api"
)

// ContextTailSize is how many trailing characters of a chunk are passed to the next one
const ContextTailSize = 200

// Single transcribes one file
type Single interface {
	Transcribe(ctx context.Context, audio *tapi.Request) (string, error)
}

// TranscribeChunks transcribes chunks one by one, passing the tail of the previous
// transcript as the prompt of the next call. Chunk files are removed in any case.
func TranscribeChunks(ctx context.Context, tr Single, chunks []*audio.Chunk, language string) (string, error) {
	defer audio.Cleanup(chunks)
	res := make([]string, 0, len(chunks))
	prev := ""
	for i, ch := range chunks {
		goapp.Log.Info().Int("chunk", i+1).Int("of", len(chunks)).Dur("start", ch.Start).Msg("transcribing chunk")
		text, err := tr.Transcribe(ctx, &tapi.Request{FilePath: ch.Path, Language: language, Prompt: tailContext(prev, ContextTailSize)})
		ch.Remove()
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d failed: %w", i+1, len(chunks), err)
		}
		text = strings.TrimSpace(text)
		if text != "" {
			res = append(res, text)
			prev = text
		}
	}
	return strings.Join(res, " "), nil
}

// tailContext returns up to l trailing characters, starting on a word boundary
func tailContext(s string, l int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= l {
		return s
	}
	r := []rune(s)
	res := string(r[len(r)-l:])
	if i := strings.IndexAny(res, " \n\t"); i >= 0 && i < len(res)-1 {
		res = res[i+1:]
	}
	return strings.TrimSpace(res)
}
