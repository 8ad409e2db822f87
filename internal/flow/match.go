package flow

import (
	"strings"

	"github.com/iliyamo/resort-booking/internal/model"
)

// offeringCutoff is the minimum similarity for a typo-tolerant offering
// match.
const offeringCutoff = 0.6

// MatchOffering finds the offering named in text.  Filler words are
// dropped first; then an exact substring match is tried, then the most
// similar full name or long name word at or above offeringCutoff.
func (d *Detector) MatchOffering(text string, offerings []model.Offering) (*model.Offering, bool) {
	var kept []string
	for _, w := range words(strings.ToLower(text)) {
		if !d.filler[w] {
			kept = append(kept, w)
		}
	}
	query := strings.Join(kept, " ")
	if query == "" {
		return nil, false
	}

	for i := range offerings {
		name := strings.ToLower(offerings[i].Name)
		if strings.Contains(query, name) || (len([]rune(query)) >= 3 && strings.Contains(name, query)) {
			return &offerings[i], true
		}
	}

	best, bestScore := -1, 0.0
	for i := range offerings {
		name := strings.ToLower(offerings[i].Name)
		targets := []string{name}
		for _, w := range strings.Fields(name) {
			if len([]rune(w)) >= 4 {
				targets = append(targets, w)
			}
		}
		for _, target := range targets {
			if score := similarity(query, target); score >= offeringCutoff && score > bestScore {
				best, bestScore = i, score
			}
		}
	}
	if best < 0 {
		return nil, false
	}
	return &offerings[best], true
}
