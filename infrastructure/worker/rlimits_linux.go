//go:build linux

package worker

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// applySandboxAttrs starts the worker in its own process group (so a
// timeout can terminate the whole group, not just the direct child) and
// drops ambient capabilities / privilege escalation (§4.6: "process is
// started in a manner that drops ambient capabilities and prevents
// privilege escalation").
func applySandboxAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:    true,
		Ambient:    nil,
		NoNewPrivs: true,
	}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// wrapWithRlimits rewrites program/args into a shell invocation that
// applies RLIMIT_AS/RLIMIT_CPU to the worker before exec'ing it. Setting
// rlimits directly from the Go runtime (via syscall.Setrlimit) would bind
// the calling OS thread's limits, not the not-yet-forked child's, so the
// shell's `ulimit` builtin — which applies to the shell process the kernel
// is about to fork+exec over — is the POSIX-portable way to cap a child
// without also capping the orchestrator itself.
func wrapWithRlimits(program string, args []string, limits ResourceLimits) (string, []string) {
	var ulimits []string
	if limits.MemoryLimitBytes > 0 {
		ulimits = append(ulimits, fmt.Sprintf("ulimit -v %d", limits.MemoryLimitBytes/1024))
	}
	if limits.CPUTimeLimitSeconds > 0 {
		ulimits = append(ulimits, fmt.Sprintf("ulimit -t %d", limits.CPUTimeLimitSeconds))
	}
	if len(ulimits) == 0 {
		return program, args
	}

	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, quoteShellArg(program))
	for _, a := range args {
		quoted = append(quoted, quoteShellArg(a))
	}
	script := strings.Join(ulimits, "; ") + "; exec " + strings.Join(quoted, " ")
	return "/bin/sh", []string{"-c", script}
}

func quoteShellArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
