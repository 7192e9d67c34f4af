// Package markup parses the inline mini-language embedded in worksheet
// sentences. Two non-nesting, non-overlapping tag kinds are supported:
//
//	【word】  the fill-in-the-blank target word
//	〔text〕  a proper-noun span, underlined in rendered output
//
// Plain text outside any tag is split into single-character tokens so a
// line break may fall between any two characters (CJK text has no word
// boundaries to break on). Tagged spans stay atomic.
package markup

import "strings"

// Kind classifies a token.
type Kind int

const (
	// KindPlain is a single plain character.
	KindPlain Kind = iota
	// KindProper is a proper-noun span rendered with an underline.
	KindProper
	// KindBlank is the fill-in-the-blank target word.
	KindBlank
)

// Token is one unit of styled text. A KindProper or KindBlank token is
// always laid out and drawn as a single atomic run.
type Token struct {
	Kind Kind
	Text string
}

const (
	blankOpen   = '【'
	blankClose  = '】'
	properOpen  = '〔'
	properClose = '〕'

	// BlankChar is the fullwidth underscore used to draw blanks.
	BlankChar = "＿"
)

// Tokenize splits a paragraph into styled tokens. It never fails: an
// unmatched or malformed tag degrades to literal characters and an
// empty span produces no token at all.
func Tokenize(s string) []Token {
	var tokens []Token
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		var kind Kind
		var close rune
		switch r {
		case blankOpen:
			kind, close = KindBlank, blankClose
		case properOpen:
			kind, close = KindProper, properClose
		default:
			tokens = append(tokens, Token{Kind: KindPlain, Text: string(r)})
			continue
		}

		end := -1
		for j := i + 1; j < len(runes); j++ {
			// A second opener before the closer means the first one is
			// unmatched; treat it as literal text.
			if runes[j] == blankOpen || runes[j] == properOpen {
				break
			}
			if runes[j] == close {
				end = j
				break
			}
		}
		if end < 0 {
			tokens = append(tokens, Token{Kind: KindPlain, Text: string(r)})
			continue
		}
		inner := string(runes[i+1 : end])
		if inner != "" {
			tokens = append(tokens, Token{Kind: kind, Text: inner})
		}
		i = end
	}
	return tokens
}

// Serialize is the inverse of Tokenize: it re-wraps tagged runs in
// their delimiters and concatenates plain characters.
func Serialize(tokens []Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		switch t.Kind {
		case KindBlank:
			sb.WriteRune(blankOpen)
			sb.WriteString(t.Text)
			sb.WriteRune(blankClose)
		case KindProper:
			sb.WriteRune(properOpen)
			sb.WriteString(t.Text)
			sb.WriteRune(properClose)
		default:
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// PlainText returns the visible text of a token sequence with all tag
// markers stripped.
func PlainText(tokens []Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		sb.WriteString(t.Text)
	}
	return sb.String()
}

// BlankLen returns the number of blank characters substituted for a
// target word: twice the word's character count, never fewer than 4.
func BlankLen(word string) int {
	n := len([]rune(word)) * 2
	if n < 4 {
		n = 4
	}
	return n
}

// Blank returns the underscore run substituted for a target word on
// the student worksheet.
func Blank(word string) string {
	return strings.Repeat(BlankChar, BlankLen(word))
}

// Target returns the first blank-target word in a sentence, or "" if
// the sentence has none.
func Target(tokens []Token) string {
	for _, t := range tokens {
		if t.Kind == KindBlank {
			return t.Text
		}
	}
	return ""
}
