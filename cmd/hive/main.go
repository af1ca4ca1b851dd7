// Command hive runs multi-agent workflows declared in a YAML file.
//
// Usage:
//
//	hive validate -config hive.yaml
//	hive run -config hive.yaml -workflow poem_pipeline "Write a poem about autumn"
//	hive serve -config hive.yaml -addr :8080 -metrics-addr :9090 -store sqlite:./hive.db
//
// Provider keys are read from the environment; a .env file is loaded first
// when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dshills/hivegraph/graph/config"
	"github.com/dshills/hivegraph/graph/factory"
)

const usage = `usage: hive <command> [flags]

commands:
  validate   check a configuration file
  run        run one workflow and print its messages
  serve      expose workflows over HTTP

run "hive <command> -h" for command flags`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute dispatches to a subcommand and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "validate":
		err = validateCmd(args[1:], stdout, stderr)
	case "run":
		err = runCmd(ctx, args[1:], stdout, stderr)
	case "serve":
		err = serveCmd(ctx, args[1:], stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprintln(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s\n", args[0], usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

var errUsage = errors.New("usage error")

// common holds the flags every subcommand accepts.
type common struct {
	configPath string
	envFile    string
	logFormat  string
	logLevel   string
}

func (c *common) register(flags *flag.FlagSet) {
	flags.StringVar(&c.configPath, "config", "hive.yaml", "path to the workflow configuration")
	flags.StringVar(&c.envFile, "env", ".env", "environment file to load before reading provider keys")
	flags.StringVar(&c.logFormat, "log-format", "text", "diagnostic log format (text or json)")
	flags.StringVar(&c.logLevel, "log-level", "info", "diagnostic log level (debug, info, warn, error)")
}

// logger builds the diagnostic logger selected by the flags.
func (c *common) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q", c.logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch c.logFormat {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid -log-format %q (want text or json)", c.logFormat)
	}
}

// loadEnv loads the env file. A missing file is not an error; variables
// already set in the process environment win.
func (c *common) loadEnv() error {
	if c.envFile == "" {
		return nil
	}
	if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", c.envFile, err)
	}
	return nil
}

// setup loads the environment and configuration and returns a factory
// ready to build engines.
func (c *common) setup(stderr io.Writer, opts ...factory.Option) (*factory.Factory, *slog.Logger, error) {
	logger, err := c.logger(stderr)
	if err != nil {
		return nil, nil, err
	}
	if err := c.loadEnv(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := factory.New(cfg, append([]factory.Option{factory.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return f, logger, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet("hive "+name, flag.ContinueOnError)
	flags.SetOutput(stderr)
	return flags
}

func parseFlags(flags *flag.FlagSet, args []string) error {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}
