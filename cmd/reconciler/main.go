package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/coordinator"
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailures    = 1
	exitFatal       = 2
	exitInterrupted = 130
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		// restore default handling: a second signal kills the process
		stop()
	}()

	exitFunc(execute(ctx, os.Args[1:], os.Stdout, os.Stderr, app.Options{}))
}

// exitError carries a specific exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func execute(ctx context.Context, args []string, out, errOut io.Writer, opts app.Options) int {
	root := newRootCmd(&cli{out: out, errOut: errOut, opts: opts})
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil && code != exitInterrupted {
		fmt.Fprintln(errOut, "error:", err)
	}
	return code
}

func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, coordinator.ErrInterrupted):
		return exitInterrupted
	case errors.As(err, &ee):
		return ee.code
	}
	return exitFatal
}
