package render

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/tclam/worksheet/internal/markup"
	"github.com/tclam/worksheet/internal/model"
)

// RTF renders the batch as an editable RTF document mirroring the PDF
// content: heading, date, numbered sentences with blanks or colored
// answers, and the word list or answer key. RTF is plain text, so no
// font file is needed; word processors substitute their own CJK face.
func RTF(b model.Batch, studentName string, v Variant) []byte {
	var sb strings.Builder
	sb.WriteString(`{\rtf1\ansi\deff0`)
	sb.WriteString(`{\fonttbl{\f0\fnil\fcharset136 PMingLiU;}}`)
	sb.WriteString(`{\colortbl ;\red192\green57\blue43;}`)
	sb.WriteString("\n")

	sb.WriteString(`\f0\fs28`)
	sb.WriteString("\n")

	// Heading and date.
	sb.WriteString(`{\qc\b\fs36 `)
	sb.WriteString(rtfEscape(Title(b.School, b.Level, studentName)))
	sb.WriteString(`\b0\par}`)
	sb.WriteString("\n")
	sb.WriteString(rtfEscape("日期: " + worksheetDate(time.Now())))
	sb.WriteString(`\par\par`)
	sb.WriteString("\n")

	for i, q := range b.Questions {
		sb.WriteString(rtfEscape(fmt.Sprintf("%d. ", i+1)))
		for _, tok := range resolveTokens(q, v) {
			switch {
			case tok.Kind == markup.KindProper:
				sb.WriteString(`{\ul `)
				sb.WriteString(rtfEscape(tok.Text))
				sb.WriteString(`}`)
			case tok.Kind == markup.KindBlank && v == Teacher:
				sb.WriteString(`{\cf1 `)
				sb.WriteString(rtfEscape(tok.Text))
				sb.WriteString(`}`)
			default:
				sb.WriteString(rtfEscape(tok.Text))
			}
		}
		sb.WriteString(`\par\par`)
		sb.WriteString("\n")
	}

	if len(b.Questions) > 0 {
		heading := "詞語表"
		if v == Teacher {
			heading = "答案"
		}
		sb.WriteString(`\page{\qc\b\fs32 `)
		sb.WriteString(rtfEscape(heading))
		sb.WriteString(`\b0\par}`)
		sb.WriteString("\n")
		for i, q := range b.Questions {
			word := markup.Target(markup.Tokenize(q.Content))
			if word == "" {
				word = q.Word
			}
			entry := fmt.Sprintf("%d. %s", i+1, word)
			if v == Teacher {
				sb.WriteString(`{\cf1 `)
				sb.WriteString(rtfEscape(entry))
				sb.WriteString(`}`)
			} else {
				sb.WriteString(rtfEscape(entry))
			}
			if i%2 == 1 || i == len(b.Questions)-1 {
				sb.WriteString(`\par`)
			} else {
				sb.WriteString(`\tab\tab `)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("}")
	return []byte(sb.String())
}

// rtfEscape escapes RTF control characters and encodes non-ASCII text
// as \uN? sequences of signed UTF-16 units.
func rtfEscape(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r == '\\' || r == '{' || r == '}':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case r < 0x80:
			sb.WriteRune(r)
		default:
			for _, u := range utf16.Encode([]rune{r}) {
				fmt.Fprintf(&sb, `\u%d?`, int16(u))
			}
		}
	}
	return sb.String()
}
