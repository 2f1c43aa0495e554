//go:build !linux

package worker

import "os/exec"

// applySandboxAttrs is a no-op outside Linux; the process-group/ambient-
// capability controls in rlimits_linux.go have no portable equivalent, so
// non-Linux builds run workers without the extra sandboxing (development
// use only — production profiles target Linux).
func applySandboxAttrs(cmd *exec.Cmd) {}

// wrapWithRlimits is a no-op outside Linux: there is no POSIX-portable
// shell builtin guaranteed present, and RLIMIT_AS/RLIMIT_CPU semantics
// differ enough across BSD/Darwin that silently approximating them would
// be misleading. Resource ceilings are a Linux-only guarantee.
func wrapWithRlimits(program string, args []string, limits ResourceLimits) (string, []string) {
	return program, args
}
