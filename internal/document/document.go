// Package document models uploaded documents and their chunks, and
// implements the ingestion-time chunker: never split mid-word,
// preferring sentence breaks, then paragraph breaks, then word breaks,
// and merging an undersized trailing fragment into its predecessor
// instead of leaving it standalone.
package document

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ContentType tags a chunk's originating source kind.
type ContentType string

const (
	ContentTypeDocument ContentType = "Document"
	ContentTypeAudio    ContentType = "Audio"
	ContentTypeImage    ContentType = "Image"
	ContentTypeDatabase ContentType = "Database"
)

// Document owns a contiguous sequence of chunks plus upload metadata.
type Document struct {
	ID             string
	Filename       string
	Mime           string
	Uploader       string
	UploadedAt     time.Time
	LanguageOverride string
}

// Chunk is a fragment of a parsed document.
type Chunk struct {
	ID          string
	DocumentID  string
	Index       int
	Text        string
	StartOffset int
	EndOffset   int
	Embedding   []float32
	ContentType ContentType
	Language    string
	Tokens      map[string]int
	CreatedAt   time.Time
}

// Config bounds the chunker.
type Config struct {
	MaxChunkSize int
	MinChunkSize int
	ChunkOverlap int
}

// Chunker splits document text into word-safe, overlapping chunks.
type Chunker struct {
	cfg Config
}

// NewChunker builds a Chunker from chunking configuration. Zero values
// fall back to conservative defaults so a misconfigured instance still
// produces usable chunks rather than looping or panicking.
func NewChunker(cfg Config) *Chunker {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 1000
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = cfg.MaxChunkSize / 4
	}
	if cfg.MinChunkSize > cfg.MaxChunkSize {
		cfg.MinChunkSize = cfg.MaxChunkSize
	}
	return &Chunker{cfg: cfg}
}

// ChunkText splits text into Chunks for documentID, stamping Index,
// StartOffset/EndOffset, ContentType and CreatedAt. Embedding is left
// nil; the caller fills it in via an AI provider.
func (c *Chunker) ChunkText(documentID, text string, contentType ContentType) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	units := splitIntoSentenceUnits(text)
	if len(units) == 0 {
		return nil
	}

	raw := c.packUnits(units)
	raw = c.mergeUndersizedTail(raw)
	raw = c.applyOverlap(raw)

	chunks := make([]Chunk, len(raw))
	now := chunkTime()
	for i, r := range raw {
		chunks[i] = Chunk{
			ID:          uuid.NewString(),
			DocumentID:  documentID,
			Index:       i,
			Text:        r.text,
			StartOffset: r.start,
			EndOffset:   r.end,
			ContentType: contentType,
			CreatedAt:   now,
		}
	}
	return chunks
}

// chunkTime is a seam so tests can run without hitting wall-clock time.
var chunkTime = time.Now

type sentenceUnit struct {
	text            string
	start, end      int
	paragraphBreakAfter bool
}

type rawChunk struct {
	text       string
	start, end int
}

// splitIntoSentenceUnits walks the text once, producing sentence-sized
// units annotated with whether a paragraph break follows. A unit itself
// may be larger than MaxChunkSize if it contains no sentence-ending
// punctuation; packUnits falls back to a word-boundary split for those.
func splitIntoSentenceUnits(text string) []sentenceUnit {
	paragraphs := splitParagraphs(text)
	var units []sentenceUnit

	for pi, para := range paragraphs {
		sentences := splitSentences(para.text)
		offset := para.start
		for si, s := range sentences {
			start := strings.Index(text[offset:], s) + offset
			if start < offset {
				start = offset
			}
			end := start + len(s)
			units = append(units, sentenceUnit{
				text:                s,
				start:               start,
				end:                 end,
				paragraphBreakAfter: si == len(sentences)-1 && pi < len(paragraphs)-1,
			})
			offset = end
		}
	}
	return units
}

type paragraphSpan struct {
	text       string
	start, end int
}

func splitParagraphs(text string) []paragraphSpan {
	var spans []paragraphSpan
	raw := strings.Split(text, "\n\n")
	offset := 0
	for _, p := range raw {
		start := strings.Index(text[offset:], p)
		if start < 0 {
			start = 0
		}
		start += offset
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			spans = append(spans, paragraphSpan{text: trimmed, start: start, end: start + len(p)})
		}
		offset = start + len(p) + len("\n\n")
	}
	if len(spans) == 0 {
		spans = append(spans, paragraphSpan{text: text, start: 0, end: len(text)})
	}
	return spans
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if isSentenceEnd(r) {
			atEnd := i == len(runes)-1
			followedBySpace := !atEnd && unicode.IsSpace(runes[i+1])
			if atEnd || followedBySpace {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if rem := strings.TrimSpace(current.String()); rem != "" {
		sentences = append(sentences, rem)
	}
	if len(sentences) == 0 && text != "" {
		sentences = []string{text}
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// packUnits greedily accumulates sentence units into chunks bounded by
// MaxChunkSize. A paragraph boundary is preferred as a break point: once
// a chunk has content and would overflow, it closes there regardless of
// whether the overflow happened mid-paragraph or at a paragraph break.
// A unit wider than MaxChunkSize on its own is split on word boundaries,
// never mid-word.
func (c *Chunker) packUnits(units []sentenceUnit) []rawChunk {
	var chunks []rawChunk
	var b strings.Builder
	start := -1
	lastEnd := 0

	flush := func(end int) {
		if b.Len() == 0 {
			return
		}
		chunks = append(chunks, rawChunk{text: strings.TrimSpace(b.String()), start: start, end: end})
		b.Reset()
		start = -1
	}

	for _, u := range units {
		piece := u.text
		if len(piece) > c.cfg.MaxChunkSize {
			flush(u.start)
			for _, sub := range splitByWords(piece, c.cfg.MaxChunkSize) {
				chunks = append(chunks, rawChunk{text: sub, start: u.start, end: u.end})
			}
			lastEnd = u.end
			continue
		}

		candidateLen := b.Len()
		if candidateLen > 0 {
			candidateLen++ // separating space
		}
		candidateLen += len(piece)

		if b.Len() > 0 && candidateLen > c.cfg.MaxChunkSize {
			flush(u.start)
		}

		if start < 0 {
			start = u.start
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(piece)
		lastEnd = u.end

		if u.paragraphBreakAfter && b.Len() >= c.cfg.MinChunkSize {
			flush(lastEnd)
		}
	}
	flush(lastEnd)

	return chunks
}

// splitByWords breaks an oversized unit on whitespace boundaries so no
// produced fragment splits a word, even though it still may exceed
// MaxChunkSize slightly if a single word itself is longer than the limit.
func splitByWords(text string, max int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{text}
	}

	var out []string
	var b strings.Builder
	for _, w := range words {
		if b.Len() > 0 && b.Len()+1+len(w) > max {
			out = append(out, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// applyOverlap prepends up to ChunkOverlap characters of the previous
// chunk's tail to each chunk after the first, trimmed back to the
// nearest preceding word boundary so the prefix never starts mid-word.
func (c *Chunker) applyOverlap(chunks []rawChunk) []rawChunk {
	if c.cfg.ChunkOverlap <= 0 || len(chunks) < 2 {
		return chunks
	}
	out := make([]rawChunk, len(chunks))
	copy(out, chunks)
	for i := 1; i < len(out); i++ {
		suffix := wordSafeSuffix(out[i-1].text, c.cfg.ChunkOverlap)
		if suffix == "" {
			continue
		}
		out[i].text = strings.TrimSpace(suffix + " " + out[i].text)
	}
	return out
}

func wordSafeSuffix(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := text[len(text)-n:]
	if sp := strings.IndexFunc(cut, unicode.IsSpace); sp >= 0 {
		return strings.TrimSpace(cut[sp:])
	}
	return ""
}

// mergeUndersizedTail folds a final chunk smaller than MinChunkSize into
// its predecessor, per the "respect MinChunkSize for the final fragment"
// rule. A lone chunk below MinChunkSize is left as-is: there is nothing
// to merge it into.
func (c *Chunker) mergeUndersizedTail(chunks []rawChunk) []rawChunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if len(last.text) >= c.cfg.MinChunkSize {
		return chunks
	}
	prev := chunks[len(chunks)-2]
	merged := rawChunk{
		text:  strings.TrimSpace(prev.text + " " + last.text),
		start: prev.start,
		end:   last.end,
	}
	out := make([]rawChunk, len(chunks)-2, len(chunks)-1)
	copy(out, chunks[:len(chunks)-2])
	return append(out, merged)
}
