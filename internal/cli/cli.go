// Package cli holds the plumbing shared by the covenant command line tools:
// exit codes, config loading and logger setup around a cobra command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"emergentminds.org/covenant/config"
	"emergentminds.org/covenant/internal/logging"
	"emergentminds.org/covenant/keys"
	"emergentminds.org/covenant/model"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Flag keys shared by both tools.
const (
	ConfigKey   = "config"
	LogLevelKey = "log-level"
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Fail marks err as a validation, integrity or I/O failure (exit 1).
func Fail(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: ExitFailure, Err: err}
}

// Failf is Fail with a formatted message.
func Failf(format string, args ...any) error {
	return Fail(fmt.Errorf(format, args...))
}

// Usagef reports a usage error (exit 2).
func Usagef(format string, args ...any) error {
	return &ExitError{Code: ExitUsage, Err: fmt.Errorf(format, args...)}
}

// Env is what every command needs after flag parsing.
type Env struct {
	Config *config.Config
	Log    *zap.Logger
	Out    io.Writer
	ErrOut io.Writer
}

// Dual returns the signature engine configured by signing.deterministic.
func (e *Env) Dual() *keys.Dual {
	return keys.NewDual(keys.Options{Deterministic: e.Config.Signing.Deterministic})
}

// AddGlobalFlags registers --config and --log-level on root.
func AddGlobalFlags(flags *pflag.FlagSet) {
	flags.String(ConfigKey, "", "YAML config file")
	flags.String(LogLevelKey, "", "Log level override (debug, info, warn, error)")
}

// Load builds the Env from the global flags. Logs go to errOut.
func Load(flags *pflag.FlagSet, out, errOut io.Writer) (*Env, error) {
	cfg := config.Default()
	path, err := flags.GetString(ConfigKey)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if cfg, err = config.NewFromFile(path); err != nil {
			return nil, Usagef("%v", err)
		}
	}
	if level, _ := flags.GetString(LogLevelKey); level != "" {
		cfg.Log.Level = level
		if err := cfg.Validate(); err != nil {
			return nil, Usagef("%v", err)
		}
	}
	log, err := logging.New(cfg.Log, errOut)
	if err != nil {
		return nil, Usagef("%v", err)
	}
	return &Env{Config: cfg, Log: log, Out: out, ErrOut: errOut}, nil
}

// Execute runs root with args and maps the outcome to an exit code.
func Execute(root *cobra.Command, args []string, out, errOut io.Writer) int {
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("%w\n\n%s", err, c.UsageString())}
	})

	err := root.Execute()
	if err == nil {
		return ExitOK
	}
	code := ExitUsage
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	PrintError(errOut, err)
	return code
}

// PrintError writes err, one line per structured finding.
func PrintError(w io.Writer, err error) {
	findings := model.Flatten(err)
	if len(findings) <= 1 {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "error: %d problems:\n", len(findings))
	for _, f := range findings {
		fmt.Fprintf(w, "  - [%s] %s\n", f.RuleID, f.Error())
	}
}

// SplitList parses a comma separated flag value, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
