package debate

import "strings"

// sentenceBuffer accumulates generation deltas and yields sentence-like
// chunks as soon as they complete, so synthesis can start before the full
// reply exists. Heuristic: split on '.', '?', '!' and newlines, retaining
// punctuation.
type sentenceBuffer struct {
	b strings.Builder
}

// Push appends a delta and returns any sentences completed by it.
func (sb *sentenceBuffer) Push(delta string) []string {
	var out []string
	for _, r := range delta {
		switch r {
		case '.', '!', '?':
			sb.b.WriteRune(r)
			if s := strings.TrimSpace(sb.b.String()); s != "" {
				out = append(out, s)
			}
			sb.b.Reset()
		case '\n', '\r':
			if s := strings.TrimSpace(sb.b.String()); s != "" {
				out = append(out, s)
			}
			sb.b.Reset()
		default:
			sb.b.WriteRune(r)
		}
	}
	return out
}

// Flush returns the unterminated tail, if any, and empties the buffer.
func (sb *sentenceBuffer) Flush() string {
	s := strings.TrimSpace(sb.b.String())
	sb.b.Reset()
	return s
}
