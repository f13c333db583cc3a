package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/account"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/mcp"
)

var version = "dev"

const usage = `Usage: mailsync [global flags] <command> [flags] [args]

Commands:
  sync       Synchronize accounts with their local replica
  folders    List the folders of an account
  envelopes  List the envelopes of a folder
  search     Search the envelopes of a folder
  export     Export a folder to an mbox file
  serve      Serve the JSON-RPC API on stdin/stdout
  version    Show version information

Global flags:
`

// app holds what every command needs
type app struct {
	config  *config.Config
	manager *account.Manager
	logger  *logrus.Logger
	stdout  io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("mailsync", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", config.DefaultConfigPath(), "Path to the configuration file")
	logLevel := global.String("log-level", "", "Log level, overrides the configuration")
	logFormat := global.String("log-format", "", "Log format (json or text), overrides the configuration")
	global.Usage = func() {
		fmt.Fprint(stderr, usage)
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return 2
	}

	if global.NArg() == 0 {
		global.Usage()
		return 2
	}
	command, rest := global.Arg(0), global.Args()[1:]

	if command == "version" {
		fmt.Fprintf(stdout, "mailsync version %s\n", version)
		return 0
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Error("Invalid configuration")
		return 1
	}
	configureLogger(logger, firstNonEmpty(*logLevel, cfg.LogLevel), firstNonEmpty(*logFormat, cfg.LogFormat))

	a := &app{
		config:  cfg,
		manager: account.NewManager(cfg, logger),
		logger:  logger,
		stdout:  stdout,
	}
	defer func() {
		if err := a.manager.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close backends")
		}
	}()

	var cmdErr error
	switch command {
	case "sync":
		cmdErr = a.sync(ctx, rest)
	case "folders":
		cmdErr = a.folders(ctx, rest)
	case "envelopes":
		cmdErr = a.envelopes(ctx, rest)
	case "search":
		cmdErr = a.search(ctx, rest)
	case "export":
		cmdErr = a.export(ctx, rest)
	case "serve":
		server := mcp.NewServer(a.manager, logger, version)
		cmdErr = server.Run(ctx, stdin, stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		global.Usage()
		return 2
	}

	switch {
	case errors.Is(cmdErr, flag.ErrHelp):
		return 0
	case errors.Is(cmdErr, errUsage):
		return 2
	case cmdErr != nil:
		logger.WithError(cmdErr).WithField("command", command).Error("Command failed")
		return 1
	}
	return 0
}

func configureLogger(logger *logrus.Logger, level, format string) {
	if strings.EqualFold(format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
