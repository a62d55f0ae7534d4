package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tacl-io/tacl/internal/env"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagEnv     string
	flagPnum    string
	flagVerbose bool
	flagQuiet   bool
)

// authTimeout bounds credential exchanges and other small requests.
// Transfers run without a client timeout; they are bounded by context.
const authTimeout = 30 * time.Second

func authHTTPClient() *http.Client {
	return &http.Client{Timeout: authTimeout}
}

// newRootCmd builds the fully assembled root command. Called once from
// main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tacl",
		Short:   "File transfer client for the TSD API",
		Long:    "tacl uploads, downloads and synchronizes files with TSD projects,\nwith resumable transfers and optional end-to-end encryption.",
		Version: version,
		// Errors are printed once, by main.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagEnv, "env", "prod", "API environment (prod, alt, test, ec-prod, ec-test, dev)")
	cmd.PersistentFlags().StringVarP(&flagPnum, "pnum", "p", "", "project number (e.g. p11)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newResumablesCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newGuideCmd())

	return cmd
}

// requireProject validates the persistent environment and project flags
// shared by every command that talks to the API.
func requireProject() (env.Environment, string, error) {
	e, err := env.Parse(flagEnv)
	if err != nil {
		return "", "", err
	}

	if flagPnum == "" {
		return "", "", fmt.Errorf("a project number is required (--pnum)")
	}

	return e, flagPnum, nil
}

// buildLogger creates the slog.Logger shared by a command invocation.
// --verbose or a non-empty DEBUG environment variable enable debug
// logging; --quiet drops everything below errors.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-facing error to stderr and exits non-zero.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
