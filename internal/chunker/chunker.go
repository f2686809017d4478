package chunker

import (
	"strings"
	"unicode"

	"github.com/wandergen/wandergen-backend/internal/types"
)

const (
	DefaultChunkSize    = 1000
	DefaultOverlap      = 150
	DefaultMinChunkSize = 50
	DefaultSeparator    = "\n\n"

	// How far back from a naive cut point we look for whitespace before
	// giving up and splitting mid-word.
	boundaryLookback = 100
)

// NoOverlap disables the carried tail entirely. A zero Overlap takes the
// package default, so this marker is the only way to ask for none.
const NoOverlap = -1

// Config controls how text is split. Zero values take the package defaults.
type Config struct {
	// ChunkSize is the target chunk length in characters (runes).
	ChunkSize int
	// Overlap is how many characters of the previous chunk's tail seed the
	// next chunk. Zero takes the default; use NoOverlap for none.
	Overlap int
	// MinChunkSize drops any produced chunk shorter than this.
	MinChunkSize int
	// Separator splits the input into segments; blank line by default.
	Separator string
	// KeepSeparator retains the separator between merged segments. When
	// false, segments are re-joined with a single newline.
	KeepSeparator bool
	// Metadata is stamped onto every produced chunk.
	Metadata map[string]any
}

// Chunk is one overlapping slice of a document. Start and End are rune
// offsets into the trimmed input, kept for traceability.
type Chunk struct {
	Index    int
	Content  string
	Start    int
	End      int
	Metadata map[string]any
}

// Chunker turns a text blob into an ordered sequence of overlapping,
// boundary-aware chunks. Construct with New; the zero value is not usable.
type Chunker struct {
	cfg Config
}

func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize < 0 {
		return nil, types.NewValidationError("chunk_size", "must be positive")
	}
	if cfg.Overlap < 0 && cfg.Overlap != NoOverlap {
		return nil, types.NewValidationError("overlap", "must not be negative")
	}
	if cfg.MinChunkSize < 0 {
		return nil, types.NewValidationError("min_chunk_size", "must not be negative")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap == 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Overlap == NoOverlap {
		cfg.Overlap = 0
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	if cfg.Separator == "" {
		cfg.Separator = DefaultSeparator
	}
	return &Chunker{cfg: cfg}, nil
}

// segment is a separator-delimited piece of the input with its rune offset.
type segment struct {
	text  []rune
	start int
}

// Split chunks a single text blob. Empty input, or input shorter than the
// minimum chunk size after trimming, yields zero chunks.
func (c *Chunker) Split(text string) []Chunk {
	r := []rune(strings.TrimSpace(text))
	if len(r) == 0 {
		return nil
	}
	if len(r) <= c.cfg.ChunkSize {
		if len(r) < c.cfg.MinChunkSize {
			return nil
		}
		return []Chunk{c.newChunk(0, string(r), 0, len(r))}
	}

	segments := splitSegments(r, []rune(c.cfg.Separator))
	return c.merge(segments)
}

// SplitPages chunks pre-segmented pages, stamping each chunk's metadata with
// its 1-based page number. Offsets are relative to each page's text.
func (c *Chunker) SplitPages(pages []string) []Chunk {
	var out []Chunk
	for i, page := range pages {
		for _, ch := range c.Split(page) {
			if ch.Metadata == nil {
				ch.Metadata = map[string]any{}
			}
			ch.Metadata["page_number"] = i + 1
			ch.Index = len(out)
			out = append(out, ch)
		}
	}
	return out
}

// SplitSentences chunks on sentence boundaries instead of the configured
// separator, sharing the same merge and overlap logic. Sentence-final
// punctuation covers English and CJK text.
func (c *Chunker) SplitSentences(text string) []Chunk {
	r := []rune(strings.TrimSpace(text))
	if len(r) == 0 {
		return nil
	}
	if len(r) <= c.cfg.ChunkSize {
		if len(r) < c.cfg.MinChunkSize {
			return nil
		}
		return []Chunk{c.newChunk(0, string(r), 0, len(r))}
	}
	return c.merge(splitSentenceSegments(r))
}

func (c *Chunker) joiner() string {
	if c.cfg.KeepSeparator {
		return c.cfg.Separator
	}
	return "\n"
}

// merge accumulates segments into chunks of roughly ChunkSize characters,
// carrying a tail overlap of segments into each successive chunk. Oversized
// segments are split at the character level.
func (c *Chunker) merge(segments []segment) []Chunk {
	var (
		out    []Chunk
		buf    []segment
		bufLen int
	)
	join := []rune(c.joiner())

	flush := func() {
		if len(buf) == 0 {
			return
		}
		c.emit(&out, buf, join)
		// Tail overlap: walk backward accumulating segments until the
		// combined length reaches the configured overlap.
		var tail []segment
		tailLen := 0
		for i := len(buf) - 1; i >= 0 && tailLen < c.cfg.Overlap; i-- {
			tail = append([]segment{buf[i]}, tail...)
			tailLen += len(buf[i].text)
		}
		// Carrying the whole buffer forward would never converge.
		if tailLen >= bufLen {
			tail = nil
			tailLen = 0
		}
		buf = tail
		bufLen = tailLen
	}

	for _, seg := range segments {
		if len(seg.text) == 0 {
			continue
		}
		if len(seg.text) > c.cfg.ChunkSize {
			// Flush whatever is pending, then split the oversized
			// segment independently.
			if len(buf) > 0 {
				c.emit(&out, buf, join)
				buf = nil
				bufLen = 0
			}
			c.splitOversized(&out, seg)
			continue
		}
		if bufLen > 0 && bufLen+len(join)+len(seg.text) > c.cfg.ChunkSize {
			flush()
		}
		buf = append(buf, seg)
		bufLen += len(seg.text)
	}
	if len(buf) > 0 {
		c.emit(&out, buf, join)
	}
	return out
}

// emit joins a buffer of segments into one chunk, dropping it when shorter
// than the minimum size.
func (c *Chunker) emit(out *[]Chunk, buf []segment, join []rune) {
	if len(buf) == 0 {
		return
	}
	parts := make([]string, 0, len(buf))
	total := 0
	for _, s := range buf {
		parts = append(parts, string(s.text))
		total += len(s.text)
	}
	total += len(join) * (len(buf) - 1)
	if total < c.cfg.MinChunkSize {
		return
	}
	start := buf[0].start
	end := buf[len(buf)-1].start + len(buf[len(buf)-1].text)
	*out = append(*out, c.newChunk(len(*out), strings.Join(parts, string(join)), start, end))
}

// splitOversized slides a window of ChunkSize over a single segment that is
// too large to merge, preferring a whitespace boundary near the cut point.
// The window always advances by at least one rune, so a misconfigured
// overlap >= chunk size cannot stall the loop.
func (c *Chunker) splitOversized(out *[]Chunk, seg segment) {
	r := seg.text
	start := 0
	for start < len(r) {
		end := start + c.cfg.ChunkSize
		if end >= len(r) {
			end = len(r)
		} else {
			end = backwardWhitespace(r, end)
			if end <= start {
				end = start + c.cfg.ChunkSize
			}
		}

		piece := strings.TrimSpace(string(r[start:end]))
		if len([]rune(piece)) >= c.cfg.MinChunkSize {
			*out = append(*out, c.newChunk(len(*out), piece, seg.start+start, seg.start+end))
		}
		if end == len(r) {
			break
		}

		next := end - c.cfg.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
}

// backwardWhitespace walks back from cut (at most boundaryLookback runes)
// looking for whitespace so the split does not land mid-word. Returns cut
// unchanged when no boundary is found.
func backwardWhitespace(r []rune, cut int) int {
	low := cut - boundaryLookback
	if low < 0 {
		low = 0
	}
	for i := cut; i > low; i-- {
		if unicode.IsSpace(r[i-1]) {
			return i
		}
	}
	return cut
}

func (c *Chunker) newChunk(index int, content string, start, end int) Chunk {
	var md map[string]any
	if len(c.cfg.Metadata) > 0 {
		md = make(map[string]any, len(c.cfg.Metadata))
		for k, v := range c.cfg.Metadata {
			md[k] = v
		}
	}
	return Chunk{
		Index:    index,
		Content:  content,
		Start:    start,
		End:      end,
		Metadata: md,
	}
}

// splitSegments cuts text on the separator, recording each segment's rune
// offset. Separator runs produce no empty segments.
func splitSegments(r, sep []rune) []segment {
	if len(sep) == 0 {
		return []segment{{text: r, start: 0}}
	}
	var out []segment
	start := 0
	i := 0
	for i <= len(r)-len(sep) {
		if string(r[i:i+len(sep)]) == string(sep) {
			appendSegment(&out, r, start, i)
			i += len(sep)
			start = i
			continue
		}
		i++
	}
	appendSegment(&out, r, start, len(r))
	return out
}

// splitSentenceSegments cuts on sentence-final punctuation, keeping the
// punctuation with its sentence.
func splitSentenceSegments(r []rune) []segment {
	var out []segment
	start := 0
	for i := 0; i < len(r); i++ {
		if !isSentenceEnd(r[i]) {
			continue
		}
		// Swallow consecutive terminators ("?!", "...").
		end := i + 1
		for end < len(r) && isSentenceEnd(r[end]) {
			end++
		}
		appendSegment(&out, r, start, end)
		i = end - 1
		start = end
	}
	appendSegment(&out, r, start, len(r))
	return out
}

func isSentenceEnd(c rune) bool {
	switch c {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// appendSegment trims a [from,to) slice and records it with the offset of
// its first non-space rune.
func appendSegment(out *[]segment, r []rune, from, to int) {
	for from < to && unicode.IsSpace(r[from]) {
		from++
	}
	for to > from && unicode.IsSpace(r[to-1]) {
		to--
	}
	if to <= from {
		return
	}
	*out = append(*out, segment{text: r[from:to], start: from})
}
