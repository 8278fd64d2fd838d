// Package filter implements the pure Market Filter classifier (spec §4.1):
// deciding whether a market is in-universe and assigning a priority
// multiplier, purely from its question, description, tags and end-time.
package filter

import (
	"regexp"
	"strings"
	"time"

	"github.com/surveil/smartmoney/internal/config"
)

// Priority multipliers (§4.1).
const (
	PriorityHot     = 2.0
	PriorityUrgent  = 1.5
	PriorityDefault = 1.0
)

// Filter is a pure, deterministic market classifier.
type Filter struct {
	hotKeywords       []string
	inclusionKeywords []string
	exclusionPatterns []*regexp.Regexp
	endsWithinDays    int
}

// New builds a Filter from configuration, compiling exclusion regexes once.
func New(cfg config.FilterConfig) (*Filter, error) {
	compiled := make([]*regexp.Regexp, 0, len(cfg.ExclusionPatterns))
	for _, pat := range cfg.ExclusionPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return &Filter{
		hotKeywords:       lower(cfg.HotKeywords),
		inclusionKeywords: lower(cfg.InclusionKeywords),
		exclusionPatterns: compiled,
		endsWithinDays:    cfg.EndsWithinDays,
	}, nil
}

func lower(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Decision is the filter's verdict for one market.
type Decision struct {
	InUniverse bool
	Priority   float64
}

// Classify evaluates the three ordered rules of §4.1 against a market's
// question, description, tags and end-time. Volume is not an input.
func (f *Filter) Classify(question, description string, tags []string, endTime time.Time, now time.Time) Decision {
	haystack := strings.ToLower(question + " " + description + " " + strings.Join(tags, " "))

	// Rule 1: reject on any exclusion pattern match.
	for _, re := range f.exclusionPatterns {
		if re.MatchString(haystack) {
			return Decision{InUniverse: false, Priority: PriorityDefault}
		}
	}

	// Rule 2: accept on any inclusion keyword match.
	inUniverse := false
	for _, kw := range f.inclusionKeywords {
		if strings.Contains(haystack, kw) {
			inUniverse = true
			break
		}
	}

	// Rule 3: else reject.
	if !inUniverse {
		return Decision{InUniverse: false, Priority: PriorityDefault}
	}

	return Decision{InUniverse: true, Priority: f.priority(haystack, endTime, now)}
}

func (f *Filter) priority(haystack string, endTime, now time.Time) float64 {
	for _, kw := range f.hotKeywords {
		if strings.Contains(haystack, kw) {
			return PriorityHot
		}
	}
	if !endTime.IsZero() && endTime.Sub(now) <= time.Duration(f.endsWithinDays)*24*time.Hour {
		return PriorityUrgent
	}
	return PriorityDefault
}
