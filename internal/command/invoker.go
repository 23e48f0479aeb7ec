// Package command runs external host tools (qm, virt-customize, apt) from
// argv slices and maps their failures to typed errors.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner runs one external command. The first element of argv is the program.
type Runner interface {
	Run(ctx context.Context, argv []string) error
}

// Kind classifies why an invocation failed.
type Kind int

const (
	// KindNotFound means the program could not be started at all.
	KindNotFound Kind = iota
	// KindNonZeroExit means the program ran and reported failure.
	KindNonZeroExit
	// KindTimeout means the invocation exceeded its deadline or was cancelled.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindNonZeroExit:
		return "non-zero exit"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ToolError describes a failed invocation.
type ToolError struct {
	Kind     Kind
	ExitCode int
	Argv     []string
	Err      error
}

func (e *ToolError) Error() string {
	cmdline := strings.Join(e.Argv, " ")
	switch e.Kind {
	case KindNonZeroExit:
		return fmt.Sprintf("command %q exited with status %d", cmdline, e.ExitCode)
	case KindTimeout:
		return fmt.Sprintf("command %q timed out: %v", cmdline, e.Err)
	default:
		return fmt.Sprintf("command %q could not be started: %v", cmdline, e.Err)
	}
}

func (e *ToolError) Unwrap() error { return e.Err }

// IsKind reports whether err is a *ToolError of the given kind.
func IsKind(err error, kind Kind) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Kind == kind
}

// Invoker runs commands on the local host.
type Invoker struct {
	// Verbose passes the child's stdout and stderr through to Stdout and Stderr.
	// When false the child's output is discarded.
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer

	// Timeout bounds each invocation. Zero means no limit.
	Timeout time.Duration

	Logger zerolog.Logger
}

// New creates an Invoker writing to the process's own stdout and stderr.
func New(logger zerolog.Logger, verbose bool, timeout time.Duration) *Invoker {
	return &Invoker{
		Verbose: verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Timeout: timeout,
		Logger:  logger.With().Str("component", "command").Logger(),
	}
}

// Run executes argv and waits for it to finish.
func (i *Invoker) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return &ToolError{Kind: KindNotFound, Err: errors.New("empty argv")}
	}

	if i.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}

	i.Logger.Debug().Strs("argv", argv).Msg("Executing command")
	start := time.Now()

	// #nosec G204 - argv is assembled from fixed templates and validated catalog values
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if i.Verbose {
		cmd.Stdout = i.Stdout
		cmd.Stderr = i.Stderr
	}

	err := cmd.Run()
	duration := time.Since(start)
	if err == nil {
		i.Logger.Debug().Strs("argv", argv).Dur("duration", duration).Msg("Command succeeded")
		return nil
	}

	toolErr := classify(ctx, argv, err)
	i.Logger.Debug().
		Strs("argv", argv).
		Dur("duration", duration).
		Str("kind", toolErr.Kind.String()).
		Int("exit_code", toolErr.ExitCode).
		Msg("Command failed")
	return toolErr
}

func classify(ctx context.Context, argv []string, err error) *ToolError {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &ToolError{Kind: KindTimeout, ExitCode: -1, Argv: argv, Err: ctxErr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Kind: KindNonZeroExit, ExitCode: exitErr.ExitCode(), Argv: argv, Err: err}
	}

	return &ToolError{Kind: KindNotFound, ExitCode: -1, Argv: argv, Err: err}
}
