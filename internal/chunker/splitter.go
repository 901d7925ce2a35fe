package chunker

import (
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SentenceSplitter = (*RegexpSplitter)(nil)

// sentenceEnd matches terminal punctuation (Latin and Bengali danda),
// any closing quotes or brackets, then the whitespace that separates
// the next sentence.
var sentenceEnd = regexp.MustCompile(`([.!?।॥]+["'”’)\]]*)\s+`)

// RegexpSplitter splits text on sentence-final punctuation.
type RegexpSplitter struct{}

// NewRegexpSplitter creates the default sentence splitter.
func NewRegexpSplitter() *RegexpSplitter {
	return &RegexpSplitter{}
}

// Split returns the sentences of text in order, whitespace-normalised.
func (s *RegexpSplitter) Split(text string) []string {
	var sentences []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringSubmatchIndex(text, -1) {
		sentences = appendSentence(sentences, text[start:m[3]])
		start = m[1]
	}
	return appendSentence(sentences, text[start:])
}

func appendSentence(sentences []string, raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return sentences
	}
	return append(sentences, strings.Join(fields, " "))
}
