package finding

import "testing"

func TestSeverityIsValid(t *testing.T) {
	for _, s := range []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInformational} {
		if !s.IsValid() {
			t.Errorf("%s.IsValid() = false, want true", s)
		}
	}
	if Severity("extreme").IsValid() {
		t.Error("extreme.IsValid() = true, want false")
	}
}

func TestValidateRejectsBadSeverityAndScore(t *testing.T) {
	f := Finding{Severity: "extreme", Score: 5}
	if err := f.Validate(); err == nil {
		t.Error("expected error for invalid severity")
	}

	f = Finding{Severity: SeverityHigh, Score: 11}
	if err := f.Validate(); err == nil {
		t.Error("expected error for out-of-range score")
	}

	f = Finding{Severity: SeverityHigh, Score: 7}
	if err := f.Validate(); err != nil {
		t.Errorf("expected valid finding to pass, got %v", err)
	}
}

func TestEvidenceCap(t *testing.T) {
	big := make([]byte, MaxEvidenceBytes+100)
	e := Evidence{Request: string(big), Response: string(big)}
	e.Cap()

	if len(e.Request) != MaxEvidenceBytes || len(e.Response) != MaxEvidenceBytes {
		t.Fatalf("expected evidence capped to %d bytes, got req=%d resp=%d", MaxEvidenceBytes, len(e.Request), len(e.Response))
	}
}

func TestSummarize(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityCritical},
		{Severity: SeverityCritical},
		{Severity: SeverityHigh},
		{Severity: SeverityLow},
	}
	s := Summarize(findings)

	if s.Critical != 2 || s.High != 1 || s.Low != 1 || s.Medium != 0 || s.Informational != 0 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}
