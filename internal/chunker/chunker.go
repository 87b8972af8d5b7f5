// Package chunker splits long documents into bounded, order-preserving chunks
// on paragraph and sentence boundaries.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChars is the default upper bound on chunk length in characters.
const DefaultMaxChars = 8000

const (
	paragraphSep = "\n\n"
	sentenceSep  = " "
)

var paragraphBreak = regexp.MustCompile(`(\r\n|\n|\r){2,}`)

// Chunker packs paragraphs, and sentences of oversized paragraphs, into
// chunks of at most maxChars characters. A single sentence longer than
// maxChars is emitted as its own chunk.
type Chunker struct {
	maxChars int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxChars sets the chunk size bound in characters.
func WithMaxChars(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{maxChars: DefaultMaxChars}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxChars returns the configured bound.
func (c *Chunker) MaxChars() int {
	return c.maxChars
}

// Chunk splits text into chunks in document order. Empty or whitespace-only
// input yields no chunks, and no returned chunk is empty.
func (c *Chunker) Chunk(text string) []string {
	var (
		chunks []string
		acc    strings.Builder
		accLen int
	)

	flush := func() {
		if accLen > 0 {
			chunks = append(chunks, acc.String())
		}
		acc.Reset()
		accLen = 0
	}

	// add appends piece to the accumulator, flushing first when the piece
	// would push it past the bound.
	add := func(piece, sep string) {
		n := utf8.RuneCountInString(piece)
		if accLen > 0 && accLen+len(sep)+n > c.maxChars {
			flush()
		}
		if accLen > 0 {
			acc.WriteString(sep)
			accLen += len(sep)
		}
		acc.WriteString(piece)
		accLen += n
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= c.maxChars {
			add(para, paragraphSep)
			continue
		}
		flush()
		for _, sentence := range SplitSentences(para) {
			add(sentence, sentenceSep)
		}
	}
	flush()

	return chunks
}

// SplitSentences splits text after '.', '?' or '!' when followed by
// whitespace. The whitespace run is consumed; empty pieces are dropped.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		end := i
		j := i
		for j < len(text) {
			ws, wsSize := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(ws) {
				break
			}
			j += wsSize
		}
		if j == end {
			continue
		}
		if s := text[start:end]; strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		start = j
		i = j
	}
	if start < len(text) {
		if s := text[start:]; strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
