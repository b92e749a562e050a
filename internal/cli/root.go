package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/statemade/diffreview/internal/config"
	"github.com/statemade/diffreview/internal/dispatch"
	"github.com/statemade/diffreview/internal/github"
	"github.com/statemade/diffreview/internal/providers"
)

// version is overridden at build time with -ldflags "-X ...cli.version=".
var version = "0.1.0"

// Exit codes.
const (
	ExitSuccess      = 0
	ExitIncomplete   = 1
	ExitUsageError   = 2
	ExitAuthError    = 3
	ExitRuntimeError = 4
)

// Global flags
var (
	flagConfigFile  string
	flagMetricsFile string
	flagTrace       bool
)

var rootCmd = &cobra.Command{
	Use:   "diffreview",
	Short: "Stream a pull request diff through an LLM and post the review",
	Long: "diffreview splits a diff into chunks, streams each chunk to a completion API " +
		"with bounded concurrency and pacing, and posts the aggregated review as a pull request comment.",
	SilenceUsage: true,
}

// Run executes the root command and returns an exit code.
func Run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}
	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

// exitWith reports err on the command's stderr and records code as the
// process exit code.
func exitWith(cmd *cobra.Command, code int, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	exitCode = code
	return nil
}

// codeFor maps an error to its exit code.
func codeFor(err error) int {
	switch {
	case providers.IsAuthError(err), github.IsAuthError(err):
		return ExitAuthError
	case errors.Is(err, dispatch.ErrInvalidOptions):
		return ExitUsageError
	default:
		return ExitRuntimeError
	}
}

// loadConfig builds the effective config for cmd. bindings maps config keys
// to the names of flags that override them.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	l := config.NewLoader(flagConfigFile)
	all := map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}
	for k, v := range bindings {
		all[k] = v
	}
	for key, name := range all {
		f := lookupFlag(cmd, name)
		if f == nil {
			continue
		}
		if err := l.BindFlag(key, f); err != nil {
			return nil, err
		}
	}
	return l.Load()
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

// newLogger builds the process logger. Logs go to w so stdout stays free for
// the report.
func newLogger(cfg config.LogConfig, w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	default:
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level)
	return zap.New(core, zap.AddCaller()).With(zap.String("tool", "diffreview")), nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print diffreview version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "diffreview version %s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfigFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/diffreview/config.yaml)")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "Write Prometheus metrics in textfile format after the run")
	pf.BoolVar(&flagTrace, "trace", false, "Print OpenTelemetry spans to stderr")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "console", "Log format (console, json)")

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(versionCmd)
}
