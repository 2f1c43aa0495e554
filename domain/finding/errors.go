package finding

import "fmt"

func errInvalidSeverity(s Severity) error {
	return fmt.Errorf("finding: invalid severity %q", s)
}

func errScoreOutOfRange(score int) error {
	return fmt.Errorf("finding: score %d out of range [0,10]", score)
}
