package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// DefaultReplacement is written in place of each redacted span.
const DefaultReplacement = "[REDACTED]"

// Rule detects one kind of secret.
type Rule struct {
	ID          string `koanf:"id"`
	Description string `koanf:"description"`
	Pattern     string `koanf:"pattern"`
	// Keywords, when set, must appear (case-insensitively) somewhere in
	// the text for the rule to run.
	Keywords []string `koanf:"keywords"`
	Severity string   `koanf:"severity"`
}

// Config configures a Scrubber. Empty Rules means DefaultRules.
type Config struct {
	Rules       []Rule
	Replacement string
	// AllowList patterns exempt matching spans from redaction.
	AllowList []string
	// Gitleaks adds the gitleaks default rule set on top of Rules.
	Gitleaks bool
}

// Finding locates a redacted secret. The value itself is never kept.
type Finding struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Line     int    `json:"line"`
}

// Result is the outcome of scrubbing one text.
type Result struct {
	Text     string
	Findings []Finding
}

// RuleIDs returns the distinct rule ids that matched, sorted.
func (r Result) RuleIDs() []string {
	seen := make(map[string]struct{}, len(r.Findings))
	ids := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		if _, ok := seen[f.RuleID]; ok {
			continue
		}
		seen[f.RuleID] = struct{}{}
		ids = append(ids, f.RuleID)
	}
	sort.Strings(ids)
	return ids
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []string
}

// Scrubber redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	rules       []compiledRule
	allow       []*regexp.Regexp
	replacement string
	gitleaks    bool
}

// New compiles cfg into a Scrubber.
func New(cfg Config) (*Scrubber, error) {
	rules := cfg.Rules
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	s := &Scrubber{replacement: cfg.Replacement, gitleaks: cfg.Gitleaks}
	if s.replacement == "" {
		s.replacement = DefaultReplacement
	}
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %s: invalid pattern: empty", r.ID)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.ID, err)
		}
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		s.rules = append(s.rules, compiledRule{Rule: r, pattern: re, keywords: kws})
	}
	for i, p := range cfg.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		s.allow = append(s.allow, re)
	}
	if s.gitleaks {
		if _, err := detect.NewDetectorDefaultConfig(); err != nil {
			return nil, fmt.Errorf("loading gitleaks rules: %w", err)
		}
	}
	return s, nil
}

type span struct{ start, end int }

// Scrub replaces every detected secret in text. Overlapping matches are
// merged into one replacement.
func (s *Scrubber) Scrub(text string) Result {
	res := Result{Text: text}
	lower := ""
	var spans []span
	for _, r := range s.rules {
		if len(r.keywords) > 0 {
			if lower == "" {
				lower = strings.ToLower(text)
			}
			if !containsAny(lower, r.keywords) {
				continue
			}
		}
		for _, m := range r.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[m[0]:m[1]]) {
				continue
			}
			res.Findings = append(res.Findings, Finding{
				RuleID:   r.ID,
				Severity: r.Severity,
				Line:     strings.Count(text[:m[0]], "\n") + 1,
			})
			spans = append(spans, span{m[0], m[1]})
		}
	}
	if s.gitleaks {
		// Rules were loaded once in New, so a failure here is not expected.
		if fs, ss, err := gitleaksSpans(text); err == nil {
			for i := range ss {
				if s.allowed(text[ss[i].start:ss[i].end]) {
					continue
				}
				res.Findings = append(res.Findings, fs[i])
				spans = append(spans, ss[i])
			}
		}
	}
	if len(spans) == 0 {
		return res
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for i := 0; i < len(spans); {
		cur := spans[i]
		for i++; i < len(spans) && spans[i].start <= cur.end; i++ {
			cur.end = max(cur.end, spans[i].end)
		}
		b.WriteString(text[pos:cur.start])
		b.WriteString(s.replacement)
		pos = cur.end
	}
	b.WriteString(text[pos:])
	res.Text = b.String()
	sort.SliceStable(res.Findings, func(i, j int) bool { return res.Findings[i].Line < res.Findings[j].Line })
	return res
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
