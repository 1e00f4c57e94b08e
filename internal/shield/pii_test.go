package shield

import (
	"strings"
	"testing"

	"github.com/ArmanHov2006/sentinel/internal/core"
)

func TestRegexDetectorFindsStructuredPII(t *testing.T) {
	d := NewRegexDetector()

	tests := []struct {
		name string
		text string
		typ  string
	}{
		{"email", "reach me at jane.doe@example.com please", "email"},
		{"phone", "call 555-123-4567 tomorrow", "phone"},
		{"ssn", "my ssn is 123-45-6789", "ssn"},
		{"credit card", "card 4111 1111 1111 1111 expires soon", "credit_card"},
		{"ip address", "server at 192.168.1.100 is down", "ip_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := d.Detect(tt.text)
			if len(findings) == 0 {
				t.Fatalf("Detect(%q) found nothing", tt.text)
			}
			found := false
			for _, f := range findings {
				if f.Type == tt.typ {
					found = true
					if tt.text[f.Start:f.End] != f.Text {
						t.Errorf("span offsets do not match text: %+v", f)
					}
				}
			}
			if !found {
				t.Errorf("Detect(%q) types = %v, want %s", tt.text, findings, tt.typ)
			}
		})
	}
}

func TestRegexDetectorCleanAndEmptyText(t *testing.T) {
	d := NewRegexDetector()
	if got := d.Detect(""); got != nil {
		t.Errorf("Detect(empty) = %v, want nil", got)
	}
	if got := d.Detect("nothing sensitive here"); len(got) != 0 {
		t.Errorf("Detect(clean) = %v, want none", got)
	}
}

func TestShieldBlock(t *testing.T) {
	s := NewShield(PIIBlock, nil)

	res := s.ScanText("email me at a@b.com")
	if !res.ShouldBlock {
		t.Error("block policy did not set ShouldBlock")
	}
	if res.ProcessedText != "" {
		t.Errorf("block policy produced processed text %q", res.ProcessedText)
	}
}

func TestShieldWarn(t *testing.T) {
	s := NewShield(PIIWarn, nil)

	res := s.ScanText("email me at a@b.com")
	if res.ShouldBlock {
		t.Error("warn policy set ShouldBlock")
	}
	if res.ProcessedText != "" {
		t.Error("warn policy altered text")
	}
	if len(res.Findings) == 0 {
		t.Error("warn policy dropped findings")
	}
}

func TestShieldRedact(t *testing.T) {
	s := NewShield(PIIRedact, nil)

	res := s.ScanText("write to jane@example.com or call 555-123-4567")
	want := "write to [EMAIL] or call [PHONE]"
	if res.ProcessedText != want {
		t.Errorf("ProcessedText = %q, want %q", res.ProcessedText, want)
	}
	if res.ShouldBlock {
		t.Error("redact policy set ShouldBlock")
	}
}

func TestShieldRedactMultipleSameType(t *testing.T) {
	s := NewShield(PIIRedact, nil)

	res := s.ScanText("cc a@x.com and b@y.com")
	if res.ProcessedText != "cc [EMAIL] and [EMAIL]" {
		t.Errorf("ProcessedText = %q", res.ProcessedText)
	}
}

func TestShieldNoFindings(t *testing.T) {
	s := NewShield(PIIBlock, nil)

	res := s.ScanText("completely benign")
	if res.ShouldBlock || len(res.Findings) != 0 {
		t.Errorf("clean text result = %+v", res)
	}
}

func TestShieldScanMessages(t *testing.T) {
	s := NewShield(PIIRedact, nil)

	msgs := []core.Message{
		{Role: core.RoleSystem, Content: "be helpful"},
		{Role: core.RoleUser, Content: "my email is jane@example.com"},
		{Role: core.RoleUser, Content: "what is the weather"},
		{Role: core.RoleUser, Content: "   "},
	}
	out := s.ScanMessages(msgs)

	if len(out) != 1 {
		t.Fatalf("ScanMessages() populated %d indices, want 1", len(out))
	}
	res, ok := out[1]
	if !ok {
		t.Fatal("ScanMessages() missing index 1")
	}
	if res.ProcessedText != "my email is [EMAIL]" {
		t.Errorf("ProcessedText = %q", res.ProcessedText)
	}
}

func TestRedactOverlappingSpansUsesWidest(t *testing.T) {
	text := "number 4111 1111 1111 1111 here"
	findings := []Entity{
		{Type: "phone", Start: 7, End: 20},
		{Type: "credit_card", Start: 7, End: 26},
	}
	got := redact(text, findings)
	if got != "number [CREDIT_CARD] here" {
		t.Errorf("redact() = %q, want widest span applied once", got)
	}
}

func TestRedactRightToLeftKeepsOffsetsValid(t *testing.T) {
	s := NewShield(PIIRedact, nil)

	// Both spans are longer than their replacements; left-to-right
	// rewriting would corrupt the second span.
	text := "a@really-long-domain.example.com then 10.0.0.1"
	res := s.ScanText(text)
	if !strings.Contains(res.ProcessedText, "[EMAIL]") || !strings.Contains(res.ProcessedText, "[IP_ADDRESS]") {
		t.Errorf("ProcessedText = %q", res.ProcessedText)
	}
}
