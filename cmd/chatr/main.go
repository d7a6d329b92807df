package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Initialize context that cancelled on SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		cancel()
		os.Exit(1)
	}
}

// run loads configuration (defaults, .env, environment, flags) and executes the command
func run(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, stdin io.Reader, stdout io.Writer) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return err
	}
	if err := c.LoadEnv(getenv); err != nil {
		return err
	}

	cmd := NewRootCmd(c, stdin)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)

	return cmd.ExecuteContext(ctx)
}
