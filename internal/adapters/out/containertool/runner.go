// Package containertool drives the compose CLI of the detected container tool.
package containertool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/logging"
)

// stderrTail is how many trailing stderr lines a streamed command keeps for
// its error report.
const stderrTail = 20

// Runner executes external commands in an explicit working directory.
type Runner interface {
	// LookPath resolves name against PATH.
	LookPath(name string) (string, error)

	// Run executes the command and returns its stdout.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)

	// Stream executes the command, forwarding its output to the log line by line.
	Stream(ctx context.Context, dir, name string, args ...string) error
}

// CommandError describes a command that ran but exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// Unwrap lets errors.Is match domain.ErrToolInvocation.
func (e *CommandError) Unwrap() error {
	return domain.ErrToolInvocation
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct {
	log zerolog.Logger
}

// NewExecRunner creates a runner that logs commands and streamed output to log.
func NewExecRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// LookPath implements Runner.
func (r *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug().
		Str(logging.FieldAdapter, "containertool").
		Str("dir", dir).
		Str("command", commandLine(name, args)).
		Msg("running command")

	if err := cmd.Run(); err != nil {
		return nil, commandError(ctx, name, args, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Stream implements Runner.
func (r *ExecRunner) Stream(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	log := r.log.With().
		Str(logging.FieldAdapter, "containertool").
		Str("command", name).
		Logger()
	stdout := logging.NewLineWriter(log, zerolog.InfoLevel, "stdout", 0)
	stderr := logging.NewLineWriter(log, zerolog.InfoLevel, "stderr", stderrTail)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Info().Str("dir", dir).Str("command", commandLine(name, args)).Msg("running command")

	err := cmd.Run()
	_ = stdout.Close()
	_ = stderr.Close()
	if err != nil {
		return commandError(ctx, name, args, err, strings.Join(stderr.Tail(), "\n"))
	}
	return nil
}

func commandError(ctx context.Context, name string, args []string, err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s: %v", domain.ErrToolNotFound, name, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &CommandError{
			Command:  commandLine(name, args),
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr,
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrToolInvocation, name, err)
}

func commandLine(name string, args []string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
