// Package dedup removes repetition loops that speech recognition engines produce
// on silence or noise.
package dedup

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/airenas/go-app/pkg/goapp"
)

const (
	minPhraseChars   = 3
	maxPhraseChars   = 50
	contextLines     = 3
	fingerprintChars = 200
	minFingerprint   = 20
	// SuspiciousRatio - removing more than this part of the text is reported
	SuspiciousRatio = 0.5
)

// Options configures heuristics
type Options struct {
	// MinPhraseRepeats - consecutive short phrase repeats collapsed to one
	MinPhraseRepeats int
	// MinSentenceRepeats - consecutive sentence repeats collapsed to KeepSentences
	MinSentenceRepeats int
	KeepSentences      int
	// LineWindow - lines checked for a repeated context, 0 disables
	LineWindow int
}

var (
	// DefaultOptions used by Deduplicate
	DefaultOptions = Options{MinPhraseRepeats: 3, MinSentenceRepeats: 3, KeepSentences: 2, LineWindow: 5}
	// ConservativeOptions collapses only long loops
	ConservativeOptions = Options{MinPhraseRepeats: 5, MinSentenceRepeats: 5, KeepSentences: 2}
)

// Stats describes one deduplication run
type Stats struct {
	OriginalChars int
	ResultChars   int
	RemovedRatio  float64
	Suspicious    bool
}

// Deduplicate runs the default heuristics
func Deduplicate(text string) (string, Stats) {
	return Run(text, DefaultOptions)
}

// DeduplicateConservative collapses only runs of five or more repeats
func DeduplicateConservative(text string) (string, Stats) {
	return Run(text, ConservativeOptions)
}

// Run applies the heuristics until the text stops changing.
// Every pass only removes text, so the loop ends and Run(Run(x)) == Run(x).
func Run(text string, opt Options) (string, Stats) {
	res := text
	for {
		next := collapsePhrases(res, opt.MinPhraseRepeats)
		next = collapseSentences(next, opt.MinSentenceRepeats, opt.KeepSentences)
		if opt.LineWindow > 0 {
			next = dropRepeatedLines(next, opt.LineWindow)
		}
		if len(next) >= len(res) {
			break
		}
		res = next
	}
	st := makeStats(text, res)
	if st.Suspicious {
		goapp.Log.Warn().Int("from", st.OriginalChars).Int("to", st.ResultChars).
			Float64("removed", st.RemovedRatio).Msg("dedup removed most of the text")
	}
	return res, st
}

func makeStats(in, out string) Stats {
	res := Stats{OriginalChars: utf8.RuneCountInString(in), ResultChars: utf8.RuneCountInString(out)}
	if res.OriginalChars > 0 {
		res.RemovedRatio = 1 - float64(res.ResultChars)/float64(res.OriginalChars)
	}
	res.Suspicious = res.RemovedRatio > SuspiciousRatio
	return res
}

type span struct {
	start, end int
	key        string
}

var wordRe = regexp.MustCompile(`\S+`)

func words(s string) []span {
	idx := wordRe.FindAllStringIndex(s, -1)
	res := make([]span, 0, len(idx))
	for _, p := range idx {
		res = append(res, span{start: p[0], end: p[1],
			key: strings.ToLower(strings.TrimFunc(s[p[0]:p[1]], notWordRune))})
	}
	return res
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// collapsePhrases keeps the first occurrence of a short phrase repeated minRepeats+ times in a row,
// ending with the punctuation of the last repeat
func collapsePhrases(s string, minRepeats int) string {
	if minRepeats < 2 {
		return s
	}
	ws := words(s)
	var b strings.Builder
	last := 0
	for i := 0; i < len(ws); {
		k, r := phraseRun(ws, i, minRepeats)
		if r == 0 {
			i++
			continue
		}
		first, end := ws[i+k-1], ws[i+r*k-1]
		b.WriteString(s[last : first.end-len(trailing(s, first))])
		b.WriteString(trailing(s, end))
		last = end.end
		i += r * k
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// trailing returns the punctuation closing the word
func trailing(s string, w span) string {
	t := s[w.start:w.end]
	return t[len(strings.TrimRightFunc(t, notWordRune)):]
}

// phraseRun returns the phrase length in words and the repeat count of the shortest looping phrase at i
func phraseRun(ws []span, i, minRepeats int) (int, int) {
	for k := 1; i+k*minRepeats <= len(ws); k++ {
		l, ok := phraseChars(ws[i : i+k])
		if l > maxPhraseChars {
			break
		}
		if !ok || l < minPhraseChars {
			continue
		}
		r := 1
		for i+(r+1)*k <= len(ws) && sameKeys(ws[i:i+k], ws[i+r*k:i+(r+1)*k]) {
			r++
		}
		if r >= minRepeats {
			return k, r
		}
	}
	return 0, 0
}

func phraseChars(ws []span) (int, bool) {
	res, ok := len(ws)-1, true
	for _, w := range ws {
		if w.key == "" {
			ok = false
		}
		res += utf8.RuneCountInString(w.key)
	}
	return res, ok
}

func sameKeys(a, b []span) bool {
	for i := range a {
		if a[i].key != b[i].key {
			return false
		}
	}
	return true
}

// collapseSentences keeps keep sentences of a run of minRepeats+ identical ones
func collapseSentences(s string, minRepeats, keep int) string {
	if minRepeats < 2 || keep >= minRepeats {
		return s
	}
	ss := sentences(s)
	var b strings.Builder
	last := 0
	for i := 0; i < len(ss); {
		r := 1
		for ss[i].key != "" && i+r < len(ss) && ss[i+r].key == ss[i].key {
			r++
		}
		if r >= minRepeats {
			b.WriteString(s[last:ss[i+keep-1].end])
			last = ss[i+r-1].end
		}
		i += r
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

// sentences splits s on sentence terminators followed by a space and on new lines.
// Spans cover the whole string, trailing spaces belong to the sentence.
func sentences(s string) []span {
	res := []span{}
	start := 0
	add := func(end int) {
		res = append(res, span{start: start, end: end, key: strings.ToLower(strings.Join(strings.Fields(s[start:end]), " "))})
		start = end
	}
	for i := 0; i < len(s); {
		c := s[i]
		if c != '.' && c != '!' && c != '?' && c != '\n' {
			i++
			continue
		}
		j := i + 1
		if c != '\n' {
			for j < len(s) && strings.IndexByte(".!?", s[j]) >= 0 {
				j++
			}
			if j < len(s) && !isSpace(s[j]) {
				i = j
				continue
			}
		}
		for j < len(s) && isSpace(s[j]) {
			j++
		}
		add(j)
		i = j
	}
	if start < len(s) {
		add(len(s))
	}
	return res
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// dropRepeatedLines removes a line if the same 3 line context started within the previous window lines
func dropRepeatedLines(s string, window int) string {
	lines := strings.Split(s, "\n")
	idx := []int{}
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			idx = append(idx, i)
		}
	}
	drop := map[int]bool{}
	seen := map[string]int{}
	for p := range idx {
		fp := fingerprint(lines, idx[p:minInt(p+contextLines, len(idx))])
		if utf8.RuneCountInString(fp) < minFingerprint {
			continue
		}
		if q, ok := seen[fp]; ok && p-q <= window {
			drop[idx[p]] = true
			if n := idx[p] + 1; n < len(lines) && strings.TrimSpace(lines[n]) == "" {
				drop[n] = true
			}
			continue
		}
		seen[fp] = p
	}
	if len(drop) == 0 {
		return s
	}
	res := make([]string, 0, len(lines)-len(drop))
	for i, l := range lines {
		if !drop[i] {
			res = append(res, l)
		}
	}
	return strings.Join(res, "\n")
}

func fingerprint(lines []string, idx []int) string {
	parts := make([]string, 0, len(idx))
	for _, i := range idx {
		parts = append(parts, strings.ToLower(strings.TrimSpace(lines[i])))
	}
	res := strings.Join(parts, "\n")
	if utf8.RuneCountInString(res) > fingerprintChars {
		res = string([]rune(res)[:fingerprintChars])
	}
	return res
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
