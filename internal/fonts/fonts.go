// Package fonts resolves the CJK-capable font used for worksheet
// rendering. Candidate providers are tried in order; when none of the
// configured sources yields a font the built-in Latin Modern face is
// used, which renders Latin text correctly but degrades CJK glyphs.
// Callers surface that degradation as a warning, never as an error.
package fonts

import (
	"os"

	"github.com/go-fonts/latin-modern/lmroman10regular"
)

// Result is the outcome of font resolution.
type Result struct {
	Data     []byte
	Source   string // path or "builtin"
	Degraded bool   // true when the built-in fallback was used
}

// Provider yields font bytes, reporting whether it found any.
type Provider interface {
	Resolve() (Result, bool)
}

// File reads a TTF/TTC from disk.
type File struct {
	Path string
}

func (f File) Resolve() (Result, bool) {
	data, err := os.ReadFile(f.Path)
	if err != nil || len(data) == 0 {
		return Result{}, false
	}
	return Result{Data: data, Source: f.Path}, true
}

// Bytes serves an in-memory font blob.
type Bytes struct {
	Name string
	Data []byte
}

func (b Bytes) Resolve() (Result, bool) {
	if len(b.Data) == 0 {
		return Result{}, false
	}
	return Result{Data: b.Data, Source: b.Name}, true
}

// Builtin serves the embedded Latin Modern regular face.
type Builtin struct{}

func (Builtin) Resolve() (Result, bool) {
	return Result{Data: lmroman10regular.TTF, Source: "builtin", Degraded: true}, true
}

// Resolve tries each provider in order and returns the first hit,
// falling back to the built-in face. It cannot fail.
func Resolve(providers ...Provider) Result {
	for _, p := range providers {
		if res, ok := p.Resolve(); ok {
			return res
		}
	}
	res, _ := Builtin{}.Resolve()
	return res
}

// FromPaths builds the usual provider chain from configured font paths.
func FromPaths(paths []string) Result {
	providers := make([]Provider, 0, len(paths))
	for _, p := range paths {
		providers = append(providers, File{Path: p})
	}
	return Resolve(providers...)
}
