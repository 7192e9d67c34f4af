// Package prompts builds the system prompts for sentence suggestion.
// Templates are embedded and chosen by level band: junior classes get
// shorter, plainer sentences than senior ones.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

// Variant selects a suggestion prompt variant.
type Variant string

const (
	// VariantJunior targets P1-P3: short sentences, plain vocabulary.
	VariantJunior Variant = "junior"
	// VariantSenior targets P4-P6: longer sentences, richer context.
	VariantSenior Variant = "senior"
)

var validVariants = map[Variant]bool{
	VariantJunior: true,
	VariantSenior: true,
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Variant]*template.Template
)

var delimRegex = regexp.MustCompile(`[【】〔〕]`)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[Variant(v)]
}

// ForLevel picks the variant for a class level such as "P2" or "P5".
// Unrecognized levels get the senior variant.
func ForLevel(level string) Variant {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "P1", "P2", "P3":
		return VariantJunior
	default:
		return VariantSenior
	}
}

// SuggestData holds template data for suggestion prompts.
type SuggestData struct {
	Word  string
	Level string
	Count int
}

// Load parses the embedded prompt templates. It uses sync.Once so
// templates are loaded only once.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[Variant]*template.Template)
		for _, v := range []Variant{VariantJunior, VariantSenior} {
			name := "templates/suggest_" + string(v) + ".txt"
			content, err := templateFS.ReadFile(name)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + name + ": " + err.Error())
				return
			}
			tmpl, err := template.New(string(v)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + name + ": " + err.Error())
				return
			}
			templates[v] = tmpl
		}
	})
	return loadErr
}

// BuildSuggestPrompt builds a suggestion prompt for the given word and
// level. The word is sanitized before it reaches the template.
func BuildSuggestPrompt(variant Variant, word, level string, count int) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	if count < 1 {
		count = 1
	}

	data := SuggestData{
		Word:  SanitizeWord(word),
		Level: strings.TrimSpace(level),
		Count: count,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeWord strips markup delimiters and whitespace from a target
// word before it is interpolated into a prompt.
func SanitizeWord(word string) string {
	word = delimRegex.ReplaceAllString(word, "")
	word = strings.TrimSpace(word)
	if utf8.RuneCountInString(word) > 20 {
		runes := []rune(word)
		word = string(runes[:20])
	}
	return word
}
