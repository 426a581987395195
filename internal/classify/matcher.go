// Package classify implements the pattern matcher that turns raw monitor
// signals into severity, tags, and a suppression verdict. Matchers are
// immutable after construction and safe for concurrent use by every monitor.
package classify

import (
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// Result is the classification verdict for one raw signal.
type Result struct {
	Severity   models.Severity
	Tags       []string
	Suppressed bool
}

// Matcher evaluates the ordered rule sets. Precedence: suppress patterns
// short-circuit, critical patterns force P1, degradation patterns force P2,
// informational patterns yield P5, and anything else defaults to P3 when an
// error marker is present or is suppressed otherwise.
type Matcher struct {
	suppress      []*regexp.Regexp
	critical      []*regexp.Regexp
	degradation   []*regexp.Regexp
	informational []*regexp.Regexp
	errorMarker   *regexp.Regexp
	tagVocabulary []tagRule
}

type tagRule struct {
	tag     string
	pattern *regexp.Regexp
}

// NewMatcher builds a matcher with the built-in rule sets.
func NewMatcher() *Matcher {
	return &Matcher{
		suppress: compileAll(
			`(?i)\b(test|synthetic|dry[- ]?run|simulat)`,
			`(?i)\bheartbeat\b`,
			`(?i)^\s*DEBUG\b`,
		),
		critical: compileAll(
			`(?i)\b(fatal|panic|crash(ed)?)\b`,
			`(?i)connection failed`,
			`(?i)out of memory`,
			`(?i)\bdata loss\b`,
			`(?i)database .*(down|failed|unreachable)`,
			`(?i)service unavailable`,
		),
		degradation: compileAll(
			`(?i)exceeded threshold`,
			`(?i)\b(degraded|slow|latency)\b`,
			`(?i)response time`,
			`(?i)retry exhausted`,
			`(?i)\btime[d]? ?out\b`,
		),
		informational: compileAll(
			`(?i)\b(recovered|self-healed)\b`,
			`(?i)^\s*NOTICE\b`,
		),
		errorMarker: regexp.MustCompile(`(?i)\b(error|err|exception|fail(ed|ure)?)\b`),
		tagVocabulary: []tagRule{
			{tag: "performance", pattern: regexp.MustCompile(`(?i)\b(timeout|slow|latency|response time)\b`)},
			{tag: "connectivity", pattern: regexp.MustCompile(`(?i)\b(connection|network|unreachable)\b`)},
			{tag: "database", pattern: regexp.MustCompile(`(?i)\b(database|sql|db)\b`)},
			{tag: "api", pattern: regexp.MustCompile(`(?i)\b(api|http|endpoint)\b`)},
		},
	}
}

// Classify evaluates one raw signal against the rule sets.
func (m *Matcher) Classify(raw string) Result {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{Suppressed: true}
	}

	for _, re := range m.suppress {
		if re.MatchString(text) {
			return Result{Suppressed: true}
		}
	}

	result := Result{Tags: m.extractTags(text)}
	switch {
	case matchAny(m.critical, text):
		result.Severity = models.SeverityP1
	case matchAny(m.degradation, text):
		result.Severity = models.SeverityP2
	case matchAny(m.informational, text):
		result.Severity = models.SeverityP5
	case m.errorMarker.MatchString(text):
		result.Severity = models.SeverityP3
	default:
		return Result{Suppressed: true}
	}
	return result
}

func (m *Matcher) extractTags(text string) []string {
	var tags []string
	for _, rule := range m.tagVocabulary {
		if rule.pattern.MatchString(text) {
			tags = append(tags, rule.tag)
		}
	}
	return tags
}

func matchAny(rules []*regexp.Regexp, text string) bool {
	for _, re := range rules {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// TitleFromSignal derives a stable incident title from a raw line: leading
// and internal whitespace collapsed, capped at 80 runes.
func TitleFromSignal(raw string) string {
	title := strings.Join(strings.Fields(raw), " ")
	runes := []rune(title)
	if len(runes) > 80 {
		title = string(runes[:80])
	}
	return title
}
