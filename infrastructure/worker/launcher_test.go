package worker

import "testing"

func TestClassifySuccessDetectsBudgetExhausted(t *testing.T) {
	if got := classifySuccess("some log\nBUDGET_EXHAUSTED\n"); got != ExitBudgetExhausted {
		t.Fatalf("expected budget-exhausted, got %v", got)
	}
}

func TestClassifySuccessPlainRun(t *testing.T) {
	if got := classifySuccess("all operations covered"); got != ExitSuccess {
		t.Fatalf("expected success, got %v", got)
	}
}

func TestWrapWithRlimitsPreservesArgsWhenNoLimits(t *testing.T) {
	program, args := wrapWithRlimits("ventiapi-scan", []string{"--spec", "x.json"}, ResourceLimits{})
	if program != "ventiapi-scan" || len(args) != 2 {
		t.Fatalf("expected passthrough when no limits set, got program=%q args=%v", program, args)
	}
}

func TestNewProcessLauncherBuilds(t *testing.T) {
	l := NewProcessLauncher()
	if l == nil {
		t.Fatal("expected non-nil launcher")
	}
	var _ Launcher = l
}
