package pipeline

import "strings"

// sentencePump extracts complete sentences from a token stream as they
// arrive: split on the first terminator, trim the whitespace that follows,
// keep the remainder buffered.
type sentencePump struct {
	buf strings.Builder
}

// terminators are the sentence-ending runes the pump splits on.
const terminators = ".!?\n"

// Push appends token to the buffer and returns every complete sentence it
// now contains, in order, leaving any trailing partial sentence buffered.
func (p *sentencePump) Push(token string) []string {
	p.buf.WriteString(token)
	content := p.buf.String()

	var sentences []string
	start := 0
	for i, r := range content {
		if strings.ContainsRune(terminators, r) {
			sentences = append(sentences, strings.TrimSpace(content[start:i+1]))
			start = i + 1
		}
	}

	p.buf.Reset()
	p.buf.WriteString(strings.TrimLeft(content[start:], " \t\n"))
	return sentences
}

// Flush returns and clears any remaining partial sentence.
func (p *sentencePump) Flush() string {
	s := strings.TrimSpace(p.buf.String())
	p.buf.Reset()
	return s
}
