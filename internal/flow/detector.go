package flow

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"
)

//go:embed intents.yaml
var defaultIntents []byte

// Intent names produced by the detector.
const (
	IntentBrowse    = "browse"
	IntentBook      = "book"
	IntentCheck     = "check"
	IntentCancel    = "cancel"
	IntentConfirm   = "confirm"
	IntentRecommend = "recommend"
)

// Vocabulary is the YAML document the detector is built from.
type Vocabulary struct {
	Threshold  float64           `yaml:"threshold"`
	MinWordLen int               `yaml:"min_word_len"`
	Intents    []IntentSpec      `yaml:"intents"`
	Abandon    []string          `yaml:"abandon"`
	Filler     []string          `yaml:"filler"`
	Categories map[string]string `yaml:"categories"`
}

// IntentSpec lists the phrase patterns and typo-tolerant keywords of one
// intent.
type IntentSpec struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	Keywords []string `yaml:"keywords"`
}

type compiledIntent struct {
	name     string
	patterns []*regexp.Regexp
	keywords []string
}

// Detector maps free text to an intent in two ordered passes: exact
// phrase patterns, then per-word similarity against keyword lists.
type Detector struct {
	intents    []compiledIntent
	threshold  float64
	minWordLen int
	abandon    map[string]bool
	filler     map[string]bool
	categories map[string]string
}

// DefaultDetector builds a detector from the embedded vocabulary.
func DefaultDetector() (*Detector, error) {
	return NewDetector(defaultIntents)
}

// NewDetector parses a YAML vocabulary.
func NewDetector(doc []byte) (*Detector, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("parse intents: %w", err)
	}
	if v.Threshold <= 0 || v.Threshold > 1 {
		return nil, fmt.Errorf("intents: threshold %v outside (0, 1]", v.Threshold)
	}
	d := &Detector{
		threshold:  v.Threshold,
		minWordLen: v.MinWordLen,
		abandon:    set(v.Abandon),
		filler:     set(v.Filler),
		categories: v.Categories,
	}
	for _, spec := range v.Intents {
		ci := compiledIntent{name: spec.Name, keywords: spec.Keywords}
		for _, p := range spec.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("intent %s: pattern %q: %w", spec.Name, p, err)
			}
			ci.patterns = append(ci.patterns, re)
		}
		d.intents = append(d.intents, ci)
	}
	return d, nil
}

func set(words []string) map[string]bool {
	out := make(map[string]bool, len(words))
	for _, w := range words {
		out[strings.ToLower(w)] = true
	}
	return out
}

// Detect returns the intent of text, or "" when nothing matched.
func (d *Detector) Detect(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return ""
	}
	for _, in := range d.intents {
		for _, re := range in.patterns {
			if re.MatchString(lower) {
				return in.name
			}
		}
	}
	return d.fuzzy(lower)
}

func (d *Detector) fuzzy(lower string) string {
	for _, word := range words(lower) {
		if len([]rune(word)) < d.minWordLen {
			continue
		}
		for _, in := range d.intents {
			for _, kw := range in.keywords {
				if similarity(word, kw) >= d.threshold {
					return in.name
				}
			}
		}
	}
	return ""
}

// Abandons reports whether text asks to leave the current flow.
func (d *Detector) Abandons(text string) bool {
	return d.abandon[strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".!? ")]
}

// Category returns the first known category named in text.
func (d *Detector) Category(text string) string {
	for _, w := range words(strings.ToLower(text)) {
		if _, ok := d.categories[w]; ok {
			return w
		}
	}
	return ""
}

// Icon returns the emoji of a category.
func (d *Detector) Icon(category string) string {
	if icon, ok := d.categories[strings.ToLower(category)]; ok {
		return icon
	}
	return "🎯"
}

// words splits on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// similarity is the SequenceMatcher ratio of two strings compared rune
// by rune: 2*matches / (len(a)+len(b)).
func similarity(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}
