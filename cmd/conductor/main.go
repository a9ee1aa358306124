// Command conductor runs multi-agent workflows from the terminal.
//
// Usage:
//
//	conductor run --template greenfield-product --goal "..."  # run a workflow
//	conductor templates                                       # list built-in templates
//	conductor version                                         # show version information
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version metadata, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runWorkflow(os.Args[2:])
	case "templates":
		printTemplates()
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("conductor %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`conductor - multi-agent workflow orchestrator

Usage:
  conductor <command> [options]

Commands:
  run        Start a workflow and follow it to completion
  templates  List built-in workflow templates
  version    Show version information
  help       Show this help message

Options for 'run':
  --config <path>      Path to configuration file (YAML)
  --template <name>    Workflow template to run (required)
  --goal <text>        Project goal, at least 10 characters (required)
  --commit             Commit produced artifacts to the configured repository
  --metrics-addr <a>   Serve Prometheus metrics on this address while running

Examples:
  conductor run --template greenfield-product --goal "Build a URL shortener"
  conductor run --template quick-triage --goal "Fix login timeout" --config conductor.yaml
  conductor templates`)
}

func initLogger(level, format string) *zap.Logger {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		format = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func fatalf(formatStr string, args ...any) {
	fmt.Fprintf(os.Stderr, formatStr+"\n", args...)
	os.Exit(1)
}
