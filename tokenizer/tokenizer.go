package tokenizer

import (
	"strings"
	"unicode"
)

// IsWordRune reports whether r belongs to the word-character class.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) ||
		unicode.Is(unicode.Pc, r) || unicode.Is(unicode.Nl, r)
}

// Tokenize splits text at every transition between word and non-word characters,
// trims whitespace from each piece and drops the pieces that end up empty.
func Tokenize(text string) []string {
	tokens := make([]string, 0, len(text)/4+1)
	start := 0
	inWord := false
	for i, r := range text {
		isWord := IsWordRune(r)
		if i > start && isWord != inWord {
			tokens = appendPiece(tokens, text[start:i])
			start = i
		}
		inWord = isWord
	}
	return appendPiece(tokens, text[start:])
}

func appendPiece(tokens []string, piece string) []string {
	piece = strings.TrimSpace(piece)
	if piece == "" {
		return tokens
	}
	return append(tokens, piece)
}

// Truncate keeps at most the first n tokens.
func Truncate(tokens []string, n int) []string {
	if n < 0 {
		n = 0
	}
	if len(tokens) <= n {
		return tokens
	}
	return tokens[:n]
}
