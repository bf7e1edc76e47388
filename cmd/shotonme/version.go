package main

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/shotonme/shotonme/internal/config"
)

func versionCmd(flags *globalFlags) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version and the backend this client talks to",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version)
				return
			}
			writeVersion(out, flags.dir)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")

	return cmd
}

// writeVersion prints the build and the endpoints resolved for dir. A config
// that does not resolve is reported rather than treated as a failure.
func writeVersion(w io.Writer, dir string) {
	fmt.Fprintf(w, "shotonme %s (%s, built %s, %s %s/%s)\n",
		version, revision(), date, runtime.Version(), runtime.GOOS, runtime.GOARCH)

	cfg, err := config.Resolve(dir)
	if err != nil {
		fmt.Fprintf(w, "  config: %s\n", describe(err))
		return
	}
	source := cfg.Path()
	if source == "" {
		source = "defaults"
	}
	fmt.Fprintf(w, "  config: %s\n", source)
	fmt.Fprintf(w, "  api:    %s\n", cfg.API.URL)
	fmt.Fprintf(w, "  push:   %s\n", cfg.Push.URL)
}

// revision is the commit set at build time, else the VCS revision the Go
// toolchain stamped into the binary.
func revision() string {
	if commit != "none" {
		return commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return s.Value[:12]
		}
	}
	return commit
}
