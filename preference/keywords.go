package preference

import (
	"strings"
	"unicode"
)

// minKeywordLength is the shortest token kept after stop-wording, per
// spec.md's keyword definition ("lowercased, stop-word-filtered token of
// length >= 3").
const minKeywordLength = 3

// stopWords mirrors the fixed vocabulary this engine filters prompts
// against: common connective and quality-signaling words that carry no
// model/adapter affinity signal of their own.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "for": {}, "very": {}, "best": {},
	"high": {}, "quality": {}, "detailed": {}, "masterpiece": {},
	"professional": {}, "realistic": {}, "ultra": {}, "extremely": {},
	"photo": {}, "image": {}, "picture": {}, "art": {}, "style": {},
	"from": {}, "that": {}, "this": {}, "into": {}, "over": {}, "near": {},
}

// ExtractKeywords tokenizes prompt on whitespace and punctuation,
// lowercases, filters stop words, and drops tokens shorter than
// minKeywordLength. The result preserves first-occurrence order but
// de-duplicates so a repeated word doesn't double-count a keyword's
// weight in ScoreModel/ScoreAdapter's per-keyword averages.
func ExtractKeywords(prompt string) []string {
	fields := strings.FieldsFunc(prompt, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		word := strings.ToLower(f)
		if len(word) < minKeywordLength {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
	}
	return out
}
