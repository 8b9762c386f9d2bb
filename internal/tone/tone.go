// Package tone provides the fixed whitelist of widget tone presets and the
// prompt-guide construction used by the analysis client.
package tone

import "strings"

// DefaultTone is used whenever clinic settings carry no tone or an unknown
// one.
const DefaultTone = "reassuring"

// presets maps each allowed tone to the guidance injected into analysis
// prompts.
var presets = map[string]string{
	"reassuring":   "Write warmly and calmly. Acknowledge that skin concerns can be worrying and emphasize that the clinic will take good care of the patient.",
	"friendly":     "Write in a casual, upbeat voice, as a helpful receptionist would. Short sentences, everyday words.",
	"professional": "Write in a neutral, clinical register. Be precise and avoid small talk, but stay polite.",
	"concise":      "Keep every sentence short. No filler, no pleasantries beyond a simple greeting.",
}

// Valid reports whether a tone name is one of the allowed presets.
func Valid(name string) bool {
	_, ok := presets[normalize(name)]
	return ok
}

// Normalize maps any input to an allowed preset, falling back to DefaultTone.
func Normalize(name string) string {
	n := normalize(name)
	if _, ok := presets[n]; ok {
		return n
	}
	return DefaultTone
}

// BuildPromptGuide returns the style guidance for a tone, suitable for
// appending to a system prompt. Unknown tones get the default guidance.
func BuildPromptGuide(name string) string {
	return presets[Normalize(name)]
}

// Presets lists the allowed tone names.
func Presets() []string {
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
