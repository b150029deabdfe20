package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// runCommand returns the combined stdout and stderr of the process. A
// non-zero exit status is not an error; only failing to launch or being
// cancelled is.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), nil
	}

	if ctx.Err() != nil {
		return string(out), fmt.Errorf("command cancelled: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), nil
	}
	return string(out), fmt.Errorf("failed to execute command: %w", err)
}
