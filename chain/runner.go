package chain

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/acarl005/stripansi"
)

// Runner executes an external command and reports its output and exit
// code. Process-level failures are folded into the exit code rather
// than returned as errors: a timeout or a missing binary behaves like
// a failed invocation, which is what every caller wants.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin string) (stdout, stderr string, code int)
}

type execRunner struct{}

func NewRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin string) (string, string, int) {
	if sensitiveCommand(args, stdin) {
		log.Debugf("executing: [sensitive command hidden]")
	} else {
		log.Debugf("executing: %s %s", name, strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	stdout := stripansi.Strip(out.String())
	stderr := stripansi.Strip(errb.String())

	if ctx.Err() == context.DeadlineExceeded {
		return stdout, "command timed out", -1
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout, stderr, exitErr.ExitCode()
		}
		return stdout, err.Error(), -1
	}
	return stdout, stderr, 0
}

// sensitiveCommand reports whether the invocation may carry key
// material and must never be logged verbatim.
func sensitiveCommand(args []string, stdin string) bool {
	if stdin != "" {
		return true
	}
	joined := strings.ToLower(strings.Join(args, " "))
	for _, word := range []string{"mnemonic", "password", "seed", "export"} {
		if strings.Contains(joined, word) {
			return true
		}
	}
	return false
}
