package shield

import (
	"log/slog"
	"math"
	"regexp"

	"github.com/ArmanHov2006/sentinel/internal/core"
)

// InjectionAction is the outcome of an injection scan.
type InjectionAction string

const (
	InjectionPass  InjectionAction = "PASS"
	InjectionWarn  InjectionAction = "WARN"
	InjectionBlock InjectionAction = "BLOCK"
)

// Rule is one detection pattern with a risk weight in (0, 1].
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Weight  float64
}

// DefaultRules covers the common prompt-injection families. Patterns
// compile once at package load.
var DefaultRules = []Rule{
	{
		Name: "ignore_instructions",
		Pattern: regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier)\s+` +
			`(instructions|prompts|rules|context)`),
		Weight: 0.95,
	},
	{
		Name: "role_override",
		Pattern: regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the|my)\s+\w+|` +
			`act\s+as\s+(a|an|the|if)\s+\w+|` +
			`pretend\s+(you\s+are|to\s+be)\s+`),
		Weight: 0.7,
	},
	{
		Name: "system_prompt_leak",
		Pattern: regexp.MustCompile(`(?i)(reveal|show|print|display|repeat|output|tell\s+me|what\s+is|what\s+are)\s+` +
			`(me\s+)?(your|the)\s+(system\s*)?(prompt|instructions|rules|context|message)`),
		Weight: 0.9,
	},
	{
		Name:    "jailbreak_dan",
		Pattern: regexp.MustCompile(`(?i)\bDAN\b|do\s+anything\s+now|jailbreak|bypass\s+(filter|safety|restriction)`),
		Weight:  0.95,
	},
	{
		Name: "delimiter_injection",
		Pattern: regexp.MustCompile(`(?i)<\|?(system|assistant|im_start|im_end)\|?>|` +
			`\[INST\]|\[/INST\]|` +
			`###\s*(system|assistant|instruction)`),
		Weight: 0.85,
	},
	{
		Name: "encoding_evasion",
		Pattern: regexp.MustCompile(`(?i)base64\s*(decode|encode)|` +
			`rot13|` +
			`translate\s+from\s+(hex|binary|morse|base64)`),
		Weight: 0.8,
	},
	{
		Name: "forget_instructions",
		Pattern: regexp.MustCompile(`(?i)(forget|disregard|dismiss|override|reset)\s+` +
			`(everything|all|your|the|any)\s+` +
			`(previous|prior|above|earlier|original)?\s*` +
			`(instructions|rules|context|prompts)?`),
		Weight: 0.9,
	},
	{
		Name:    "new_instructions",
		Pattern: regexp.MustCompile(`(?i)(new|updated|real|actual|true)\s+(instructions|rules|prompt|task)\s*(:|are|follow)`),
		Weight:  0.85,
	},
}

// ScanResult reports the outcome of scanning one request's messages.
type ScanResult struct {
	IsSuspicious bool            `json:"is_suspicious"`
	RiskScore    float64         `json:"risk_score"`
	MatchedRules []string        `json:"matched_rules,omitempty"`
	Action       InjectionAction `json:"action"`
}

// SafeResult is the clean no-threat result, also returned when a scan
// cannot complete: scanning failures never block a request.
func SafeResult() ScanResult {
	return ScanResult{Action: InjectionPass}
}

// InjectionDetector scans user messages against weighted rules.
// Created once at startup and shared across requests; Scan is
// read-only and safe for concurrent use.
type InjectionDetector struct {
	blockThreshold float64
	warnThreshold  float64
	rules          []Rule
}

const (
	DefaultBlockThreshold = 0.9
	DefaultWarnThreshold  = 0.3
)

// NewInjectionDetector builds a detector with the given thresholds.
// Thresholds <= 0 fall back to the defaults; nil rules means
// DefaultRules.
func NewInjectionDetector(blockThreshold, warnThreshold float64, rules []Rule) *InjectionDetector {
	if blockThreshold <= 0 {
		blockThreshold = DefaultBlockThreshold
	}
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnThreshold
	}
	if rules == nil {
		rules = DefaultRules
	}
	return &InjectionDetector{
		blockThreshold: blockThreshold,
		warnThreshold:  warnThreshold,
		rules:          rules,
	}
}

// Scan inspects the user-role messages of a request. System and
// assistant messages are trusted and skipped. User contents are joined
// with a space so an attack split across messages still matches.
func (d *InjectionDetector) Scan(messages []core.Message) ScanResult {
	combined := ""
	for _, m := range messages {
		if m.Role != core.RoleUser || m.Content == "" {
			continue
		}
		if combined != "" {
			combined += " "
		}
		combined += m.Content
	}
	if combined == "" {
		return SafeResult()
	}

	var names []string
	var weights []float64
	for _, r := range d.rules {
		if r.Pattern.MatchString(combined) {
			names = append(names, r.Name)
			weights = append(weights, r.Weight)
		}
	}
	if len(names) == 0 {
		return SafeResult()
	}

	score := combineWeights(weights)
	action := d.action(score)
	slog.Warn("prompt injection detected",
		"score", score, "action", action, "patterns", names)

	return ScanResult{
		IsSuspicious: true,
		RiskScore:    score,
		MatchedRules: names,
		Action:       action,
	}
}

// combineWeights folds rule weights into one score via the complement
// product 1 - prod(1 - w). A single 0.95 match scores 0.95; two 0.3
// matches score 0.51; the result never exceeds 1.
func combineWeights(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	prod := 1.0
	for _, w := range weights {
		prod *= 1 - w
	}
	return math.Round((1-prod)*10000) / 10000
}

func (d *InjectionDetector) action(score float64) InjectionAction {
	switch {
	case score >= d.blockThreshold:
		return InjectionBlock
	case score >= d.warnThreshold:
		return InjectionWarn
	}
	return InjectionPass
}
