// Package shield holds the two input safety stages: the PII shield and
// the prompt-injection detector. Both run before any cache or provider
// sees request content.
package shield

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ArmanHov2006/sentinel/internal/core"
)

// PIIAction is the configured policy when PII is found.
type PIIAction string

const (
	PIIBlock  PIIAction = "block"
	PIIRedact PIIAction = "redact"
	PIIWarn   PIIAction = "warn"
)

// Entity is one detected PII span. Offsets are byte positions into the
// scanned text.
type Entity struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Detector finds PII spans in text. The gateway treats the analyzer as
// opaque; RegexDetector is the built-in implementation.
type Detector interface {
	Detect(text string) []Entity
}

// PIIResult is the shield's verdict for one message.
type PIIResult struct {
	Action        PIIAction `json:"action"`
	Findings      []Entity  `json:"findings"`
	ProcessedText string    `json:"processed_text,omitempty"`
	ShouldBlock   bool      `json:"should_block"`
}

// Shield applies the configured action to detector findings.
type Shield struct {
	Action   PIIAction
	detector Detector
}

// NewShield wraps a detector with a policy. A nil detector gets the
// built-in regex detector.
func NewShield(action PIIAction, detector Detector) *Shield {
	if detector == nil {
		detector = NewRegexDetector()
	}
	return &Shield{Action: action, detector: detector}
}

// ScanText scans a single text and applies the policy.
func (s *Shield) ScanText(text string) PIIResult {
	findings := s.detector.Detect(text)
	if len(findings) == 0 {
		return PIIResult{Action: s.Action}
	}
	res := PIIResult{
		Action:      s.Action,
		Findings:    findings,
		ShouldBlock: s.Action == PIIBlock,
	}
	if s.Action == PIIRedact {
		res.ProcessedText = redact(text, findings)
	}
	return res
}

// ScanMessages scans each message and returns results keyed by message
// index, populated only where findings exist. Roles and ordering are
// never touched; redaction yields replacement content only.
func (s *Shield) ScanMessages(messages []core.Message) map[int]PIIResult {
	out := map[int]PIIResult{}
	for i, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		res := s.ScanText(m.Content)
		if len(res.Findings) > 0 {
			out[i] = res
		}
	}
	return out
}

// redact replaces each finding span with [TYPE]. Spans are rewritten
// right to left so earlier offsets stay valid; of overlapping spans
// only the widest is applied.
func redact(text string, findings []Entity) string {
	spans := widestSpans(findings)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start > spans[j].Start })
	for _, f := range spans {
		text = text[:f.Start] + "[" + strings.ToUpper(f.Type) + "]" + text[f.End:]
	}
	return text
}

func widestSpans(findings []Entity) []Entity {
	kept := make([]Entity, 0, len(findings))
	for _, f := range findings {
		covered := false
		for j, k := range kept {
			if f.Start < k.End && k.Start < f.End { // overlap
				if f.End-f.Start > k.End-k.Start {
					kept[j] = f
				}
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, f)
		}
	}
	return kept
}

// RegexDetector is a pattern-based detector for the common structured
// PII types. It has no linguistic model: names and addresses are out
// of its reach, which is fine for a gateway-side safety net.
type RegexDetector struct {
	patterns map[string]*regexp.Regexp
}

// NewRegexDetector returns a detector for email, phone, SSN, credit
// card, and IP address spans.
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{patterns: map[string]*regexp.Regexp{
		"email":       regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		"phone":       regexp.MustCompile(`(?:\+?\d{1,2}[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`),
		"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		"credit_card": regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
		"ip_address":  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
	}}
}

// Detect returns all spans matched by any pattern, ordered by start
// offset.
func (d *RegexDetector) Detect(text string) []Entity {
	if text == "" {
		return nil
	}
	var out []Entity
	for typ, re := range d.patterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			out = append(out, Entity{
				Type:       typ,
				Text:       text[loc[0]:loc[1]],
				Start:      loc[0],
				End:        loc[1],
				Confidence: 0.85,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End > out[j].End
	})
	return out
}
