package release

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/packforge/packforge/errors"
)

// CommandResult holds the output of an external command run.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands. *CommandRunner satisfies it; tests
// substitute fakes.
type Runner interface {
	Run(ctx context.Context, program string, args ...string) (*CommandResult, error)
}

// CommandRunner runs commands with captured output.
type CommandRunner struct {
	// Dir is the working directory, empty for the current one.
	Dir string

	// Env holds extra environment variables, appended to the current
	// environment.
	Env map[string]string
}

// Run executes the program and captures stdout and stderr. A non-zero
// exit is returned as an error alongside the captured output.
func (r *CommandRunner) Run(ctx context.Context, program string, args ...string) (*CommandResult, error) {
	if program == "" {
		return nil, errors.New(errors.CodeInvalidInput, "program cannot be empty")
	}

	cmd := exec.CommandContext(ctx, program, args...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}
	if len(r.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range r.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case stderrors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	if err != nil {
		return result, errors.Wrap(err, errors.CodeInternal,
			fmt.Sprintf("command %q failed", program))
	}
	return result, nil
}

// RegenerateDocs runs the configured documentation command, the one
// checklist step between version bump and tagging that is scriptable.
func RegenerateDocs(ctx context.Context, runner Runner, program string, args ...string) (*CommandResult, error) {
	if runner == nil {
		runner = &CommandRunner{}
	}
	return runner.Run(ctx, program, args...)
}
