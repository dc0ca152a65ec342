// Command taskflow is a terminal client for the LingTaskFlow task API with a
// local response cache and persistent login.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/taskflow-client/internal/config"
)

const version = "0.1.0"

// cli is the per-invocation state shared by every command.
type cli struct {
	configFile string
	jsonOutput bool

	out    io.Writer
	errOut io.Writer
	app    *app
}

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// newRootCmd builds the command tree writing to out and errOut.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "taskflow",
		Short: "taskflow is a command line client for the LingTaskFlow API",
		Long: `taskflow talks to a LingTaskFlow server. Responses are cached locally,
the login session is kept between invocations, and expired access tokens
are refreshed automatically.

Configuration is read from config.yaml (working directory or the user
config directory) and TASKFLOW_* environment variables.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  c.setup,
		PersistentPostRunE: c.teardown,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: ./config.yaml or <user config dir>/taskflow/config.yaml)")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		c.versionCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.tasksCmd(),
		c.cacheCmd(),
		c.metricsCmd(),
	)
	return root
}

// setup loads configuration and builds the service stack.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}

	cfg, err := config.Load(c.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(cmd.Context(), cfg, c.out, c.errOut)
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) teardown(cmd *cobra.Command, args []string) error {
	if c.app != nil {
		c.app.close(cmd.Context())
		c.app = nil
	}
	return nil
}

// run executes fn with the app and routes its error through the handler.
// Post-run hooks are skipped on error, so the app is released here.
func (c *cli) run(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := fn(ctx, c.app); err != nil {
			var input *inputError
			if !errors.As(err, &input) {
				err = c.app.handle(ctx, err)
			}
			_ = c.teardown(cmd, args)
			return err
		}
		return nil
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(c.out, "taskflow v"+version)
		},
	}
}

// inputError is a local validation failure; it bypasses the error handler.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return &inputError{msg: fmt.Sprintf(format, args...)}
}
