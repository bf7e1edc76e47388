package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/shotonme/shotonme/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are shared by every command.
type globalFlags struct {
	dir     string
	verbose bool
	noColor bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line in args and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		apperrors.Fprint(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "shotonme",
		Short: "Command-line client for Shot On Me",
		Long: `shotonme talks to the Shot On Me backend from the terminal.

Every change is applied locally first and reconciled with the server's
answer and with live push events:

  • Feed posts, reactions and comments
  • Direct and group messages
  • Wallet payments
  • Venues and friend locations

Run "shotonme stub" to start an in-memory backend to try it against.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor {
				apperrors.DisableColors()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.dir, "dir", "C", ".", "Directory holding shotonme.json and .env")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log debug output")
	rootCmd.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Print errors without ANSI colors")

	rootCmd.AddCommand(
		stubCmd(&flags),
		feedCmd(&flags),
		postCmd(&flags),
		reactCmd(&flags),
		sendCmd(&flags),
		payCmd(&flags),
		watchCmd(&flags),
		prefCmd(&flags),
		versionCmd(&flags),
	)

	return rootCmd
}

// describe renders err on one line for log output.
func describe(err error) string {
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		return ae.FormatCompact()
	}
	return err.Error()
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
