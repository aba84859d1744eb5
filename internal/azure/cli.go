package azure

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// azBinary is the Azure CLI executable looked up on PATH
const azBinary = "az"

// CommandRunner executes an external command and returns its stdout
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run executes the command, folding stderr into the returned error on failure
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- name is always the az binary and args are built internally
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, describeArgs(args), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, describeArgs(args), err)
	}
	return out, nil
}

// describeArgs keeps the subcommand part of an az invocation for error messages
func describeArgs(args []string) string {
	var parts []string
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			break
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
