package secrets

import (
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// gitleaksSpans runs the gitleaks default rule set over text and returns
// the byte spans of every reported secret. A fresh detector is built per
// call; detectors are not shared between goroutines.
func gitleaksSpans(text string) ([]Finding, []span, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, nil, err
	}

	var (
		findings []Finding
		spans    []span
	)
	for _, f := range detector.DetectString(text) {
		if f.Secret == "" {
			continue
		}
		for from := 0; ; {
			i := strings.Index(text[from:], f.Secret)
			if i < 0 {
				break
			}
			start := from + i
			spans = append(spans, span{start, start + len(f.Secret)})
			findings = append(findings, Finding{
				RuleID:   "gitleaks:" + f.RuleID,
				Severity: SeverityHigh,
				Line:     strings.Count(text[:start], "\n") + 1,
			})
			from = start + len(f.Secret)
		}
	}
	return findings, spans, nil
}
