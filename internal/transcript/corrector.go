package transcript

import "strings"

// Corrector rewrites recognized text before storage.
type Corrector interface {
	Correct(text string) string
}

// Dictionary is a Corrector backed by literal find/replace pairs, used
// for names and jargon the recognizer keeps getting wrong.
type Dictionary struct {
	replacer *strings.Replacer
}

// NewDictionary builds a Dictionary from replacement pairs. An empty map
// yields a corrector that returns text unchanged.
func NewDictionary(subs map[string]string) *Dictionary {
	pairs := make([]string, 0, len(subs)*2)
	for from, to := range subs {
		pairs = append(pairs, from, to)
	}
	return &Dictionary{replacer: strings.NewReplacer(pairs...)}
}

// Correct applies the substitutions without overlapping matches.
func (d *Dictionary) Correct(text string) string {
	return d.replacer.Replace(text)
}
