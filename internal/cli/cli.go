package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Exit codes of the modelprobe binary.
const (
	exitOK        = 0
	exitNoWorking = 1
	exitConfig    = 2
)

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitErr(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// MainWithArgs is a testable variant of Main that accepts args explicitly.
// It returns an exit code: 0 when at least one model worked (or a utility
// command succeeded), 1 on failure and 2 on invalid configuration.
func MainWithArgs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &Options{
		ConfigPath: envStr("MODELPROBE_CONFIG", ""),
		LogLevel:   envStr("MODELPROBE_LOG_LEVEL", ""),
	}
	root := buildRootCmdWith(opts)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errNoWorking) {
		fmt.Fprintln(stderr, "error:", err)
	}
	return exitCode(err)
}

// Main runs the command tree with a context cancelled on SIGINT or SIGTERM.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return MainWithArgs(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
