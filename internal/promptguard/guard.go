// Package promptguard screens free-text prompts before they reach a paid
// generation provider.
//
// Three operations are exposed:
//
//   - Sanitize rewrites trademarks and real-person references into generic
//     descriptions. Trademarks are replaced first, then person references.
//   - DetectCelebrityViolation is a read-only pre-flight gate that reports
//     named individuals so a job can be rejected before any paid call.
//   - IsContentPolicyViolation classifies a provider's error text.
//
// Matching is driven by a static dictionary (embedded dictionary.yaml). It is
// a heuristic: name variants can slip through and common words that double as
// brand names ("apple") are rewritten too.
package promptguard

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/tbourn/alfie-backend/internal/observability"
)

// Reason classifies a replacement.
type Reason string

const (
	ReasonTrademark       Reason = "trademark"
	ReasonPersonReference Reason = "person_reference"
)

// ViolationCode is the stable error code carried by a Violation.
const ViolationCode = "CONTENT_POLICY_VIOLATION"

// Replacement records one dictionary entry that fired. Count is the number of
// occurrences replaced; Original is the first occurrence as written.
type Replacement struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Reason      Reason `json:"reason"`
	Count       int    `json:"count"`
}

// Result is the outcome of Sanitize.
type Result struct {
	SanitizedPrompt string        `json:"sanitizedPrompt"`
	WasModified     bool          `json:"wasModified"`
	Replacements    []Replacement `json:"replacements"`
	Warnings        []string      `json:"warnings"`
}

// Violation is returned by the pre-flight gate.
type Violation struct {
	Code         string   `json:"code"`
	Message      string   `json:"message"`
	Suggestions  []string `json:"suggestions"`
	MatchedNames []string `json:"matchedNames"`
}

// Error implements error so a Violation can travel through error returns.
func (v *Violation) Error() string { return v.Message }

// Pattern kinds.
const (
	KindPhrase = "phrase"
	KindName   = "name"
)

// TrademarkEntry maps a protected term to its generic description.
type TrademarkEntry struct {
	Term    string `yaml:"term"`
	Generic string `yaml:"generic"`
}

// PatternEntry is one person-reference regular expression.
type PatternEntry struct {
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern"`
}

// Dictionary is the static data a Guard is built from.
type Dictionary struct {
	Trademarks        []TrademarkEntry `yaml:"trademarks"`
	PersonReplacement string           `yaml:"person_replacement"`
	PersonPatterns    []PatternEntry   `yaml:"person_patterns"`
	PolicyMarkers     []string         `yaml:"policy_markers"`
}

//go:embed dictionary.yaml
var embeddedDictionary []byte

// ParseDictionary decodes a YAML dictionary.
func ParseDictionary(data []byte) (Dictionary, error) {
	var d Dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Dictionary{}, fmt.Errorf("promptguard: parse dictionary: %w", err)
	}
	return d, nil
}

type trademark struct {
	term    string
	generic string
	re      *regexp.Regexp
}

type personPattern struct {
	kind string
	re   *regexp.Regexp
}

// Guard holds a compiled dictionary. It is immutable and safe for concurrent use.
type Guard struct {
	trademarks  []trademark
	persons     []personPattern
	replacement string
	markers     []string
	log         zerolog.Logger
}

// New compiles d. It rejects dictionaries whose replacement text would itself
// match an entry, since that would make Sanitize non-idempotent.
func New(d Dictionary) (*Guard, error) {
	g := &Guard{
		replacement: strings.TrimSpace(d.PersonReplacement),
		log:         log.With().Str("component", "promptguard").Logger(),
	}
	if g.replacement == "" {
		return nil, fmt.Errorf("promptguard: person_replacement must not be empty")
	}

	for _, e := range d.Trademarks {
		term := strings.TrimSpace(e.Term)
		if term == "" || strings.TrimSpace(e.Generic) == "" {
			return nil, fmt.Errorf("promptguard: trademark entry %q needs term and generic", e.Term)
		}
		first, _ := utf8.DecodeRuneInString(term)
		last, _ := utf8.DecodeLastRuneInString(term)
		if !isWordRune(first) || !isWordRune(last) {
			return nil, fmt.Errorf("promptguard: trademark %q must start and end with a letter or digit", term)
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("promptguard: trademark %q: %w", term, err)
		}
		g.trademarks = append(g.trademarks, trademark{term: term, generic: strings.TrimSpace(e.Generic), re: re})
	}
	// Longest terms first so multi-word marks win over their parts.
	sort.SliceStable(g.trademarks, func(i, j int) bool {
		return len(g.trademarks[i].term) > len(g.trademarks[j].term)
	})

	for _, p := range d.PersonPatterns {
		if p.Kind != KindPhrase && p.Kind != KindName {
			return nil, fmt.Errorf("promptguard: pattern %q has unknown kind %q", p.Pattern, p.Kind)
		}
		re, err := regexp.Compile(`(?i)` + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("promptguard: pattern %q: %w", p.Pattern, err)
		}
		g.persons = append(g.persons, personPattern{kind: p.Kind, re: re})
	}

	for _, m := range d.PolicyMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			g.markers = append(g.markers, m)
		}
	}

	outputs := []string{g.replacement}
	for _, t := range g.trademarks {
		outputs = append(outputs, t.generic)
	}
	for _, out := range outputs {
		if t, ok := g.firstTrademark(out); ok {
			return nil, fmt.Errorf("promptguard: replacement %q contains trademark %q", out, t)
		}
		if g.matchesPerson(out, "") {
			return nil, fmt.Errorf("promptguard: replacement %q matches a person pattern", out)
		}
	}
	return g, nil
}

var (
	defaultOnce  sync.Once
	defaultGuard *Guard
)

// Default returns the guard built from the embedded dictionary. It panics if
// the embedded dictionary is invalid, which is a build defect.
func Default() *Guard {
	defaultOnce.Do(func() {
		d, err := ParseDictionary(embeddedDictionary)
		if err != nil {
			panic(err)
		}
		g, err := New(d)
		if err != nil {
			panic(err)
		}
		defaultGuard = g
	})
	return defaultGuard
}

// Sanitize runs Default().Sanitize.
func Sanitize(prompt string) Result { return Default().Sanitize(prompt) }

// DetectCelebrityViolation runs Default().DetectCelebrityViolation.
func DetectCelebrityViolation(prompt string) *Violation {
	return Default().DetectCelebrityViolation(prompt)
}

// IsContentPolicyViolation runs Default().IsContentPolicyViolation.
func IsContentPolicyViolation(errText string) bool {
	return Default().IsContentPolicyViolation(errText)
}

// Sanitize replaces trademarks, then person references. A trademark that
// also names a real person yields two replacement entries.
func (g *Guard) Sanitize(prompt string) Result {
	res := Result{SanitizedPrompt: prompt, Replacements: []Replacement{}, Warnings: []string{}}
	if strings.TrimSpace(prompt) == "" {
		res.Warnings = append(res.Warnings, "prompt is empty")
		return res
	}

	out := prompt
	for _, t := range g.trademarks {
		next, rep := replaceAll(t.re, out, t.generic, ReasonTrademark)
		if rep.Count == 0 {
			continue
		}
		out = next
		res.Replacements = append(res.Replacements, rep)
		if g.matchesPerson(rep.Original, KindName) {
			res.Replacements = append(res.Replacements, Replacement{
				Original:    rep.Original,
				Replacement: t.generic,
				Reason:      ReasonPersonReference,
				Count:       rep.Count,
			})
		}
	}

	for _, p := range g.persons {
		next, rep := replaceAll(p.re, out, g.replacement, ReasonPersonReference)
		if rep.Count == 0 {
			continue
		}
		out = next
		res.Replacements = append(res.Replacements, rep)
	}

	var tm, person bool
	for _, r := range res.Replacements {
		g.log.Info().
			Str("reason", string(r.Reason)).
			Str("original", r.Original).
			Str("replacement", r.Replacement).
			Int("count", r.Count).
			Msg("prompt rewritten")
		observability.PromptSanitizations.WithLabelValues(string(r.Reason)).Add(float64(r.Count))
		switch r.Reason {
		case ReasonTrademark:
			tm = true
		case ReasonPersonReference:
			person = true
		}
	}
	if tm {
		res.Warnings = append(res.Warnings, "brand names were replaced with generic descriptions")
	}
	if person {
		res.Warnings = append(res.Warnings, "references to real people were replaced with a generic person")
	}

	res.SanitizedPrompt = out
	res.WasModified = out != prompt
	return res
}

// DetectCelebrityViolation reports named individuals in prompt without
// rewriting it. Names that only occur as part of a trademark are ignored
// because Sanitize turns them into brand descriptions.
func (g *Guard) DetectCelebrityViolation(prompt string) *Violation {
	var marks [][]int
	for _, t := range g.trademarks {
		marks = append(marks, t.re.FindAllStringIndex(prompt, -1)...)
	}

	seen := map[string]bool{}
	var names []string
	for _, p := range g.persons {
		if p.kind != KindName {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(prompt, -1) {
			if within(loc, marks) {
				continue
			}
			name := prompt[loc[0]:loc[1]]
			key := strings.ToLower(strings.Join(strings.Fields(name), " "))
			if seen[key] {
				continue
			}
			seen[key] = true
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}

	v := &Violation{
		Code:    ViolationCode,
		Message: fmt.Sprintf("prompt references real people (%s); providers refuse to generate likenesses of real individuals", strings.Join(names, ", ")),
		Suggestions: []string{
			`Describe the person generically, for example "a tech entrepreneur" or "a famous singer".`,
			"Remove the name and describe clothing, setting or mood instead.",
			"Use an original fictional character.",
		},
		MatchedNames: names,
	}
	g.log.Warn().Strs("names", names).Msg("celebrity reference blocked")
	return v
}

// IsContentPolicyViolation reports whether a provider's error text looks like
// a content-policy rejection rather than a transient failure.
func (g *Guard) IsContentPolicyViolation(errText string) bool {
	low := strings.ToLower(errText)
	if low == "" {
		return false
	}
	for _, m := range g.markers {
		if strings.Contains(low, m) {
			return true
		}
	}
	return false
}

func (g *Guard) firstTrademark(s string) (string, bool) {
	for _, t := range g.trademarks {
		if t.re.MatchString(s) {
			return t.term, true
		}
	}
	return "", false
}

// matchesPerson reports whether any pattern of kind (or any kind when empty)
// matches s.
func (g *Guard) matchesPerson(s, kind string) bool {
	for _, p := range g.persons {
		if kind != "" && p.kind != kind {
			continue
		}
		if p.re.MatchString(s) {
			return true
		}
	}
	return false
}

func replaceAll(re *regexp.Regexp, s, with string, reason Reason) (string, Replacement) {
	rep := Replacement{Replacement: with, Reason: reason}
	out := re.ReplaceAllStringFunc(s, func(m string) string {
		if rep.Count == 0 {
			rep.Original = m
		}
		rep.Count++
		return with
	})
	return out, rep
}

func within(loc []int, spans [][]int) bool {
	for _, s := range spans {
		if loc[0] >= s[0] && loc[1] <= s[1] {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
