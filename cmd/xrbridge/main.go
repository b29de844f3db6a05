// Command xrbridge runs the XR desktop bridge daemon and its tools.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/xrdesk/xrbridge/internal/config"
	"github.com/xrdesk/xrbridge/internal/db"
	"github.com/xrdesk/xrbridge/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	command, rest := args[0], args[1:]
	switch command {
	case "serve":
		return runServe(rest, stdout, stderr)
	case "mock":
		return runMock(rest, stdout, stderr)
	case "capture":
		return runCapture(rest, stdout, stderr)
	case "replay":
		return runReplay(rest, stdout, stderr)
	case "plot":
		return runPlot(rest, stdout, stderr)
	case "migrate":
		return runMigrate(rest, stdout, stderr)
	case "ctl":
		return runCtl(rest, stdout, stderr)
	case "events":
		return runEvents(rest, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `xrbridge - desktop bridge for XR glasses

Usage: xrbridge <command> [options]

Commands:
  serve      Run the daemon (telemetry loop, HTTP API, plugin socket)
  mock       Publish synthetic telemetry to the shared buffer
  capture    Record the shared buffer to a capture file
  replay     Play a capture back into the shared buffer, or run it offline
  plot       Render a capture as a PNG or HTML orientation chart
  migrate    Manage the history database schema
  ctl        Talk to a running daemon over HTTP
  events     Stream events from a running daemon over the plugin socket
  version    Show version information
  help       Show this help message

Run 'xrbridge <command> --help' for the options of a command.
`)
}

// newFlagSet returns a FlagSet that reports errors instead of exiting.
func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

// parseFlags parses args and maps the outcome to an exit code; ok is false
// when the command should stop.
func parseFlags(fs *pflag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

// loadConfig reads path, or returns an empty config when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Empty(), nil
	}
	return config.Load(path)
}

func runMigrate(args []string, stdout, stderr io.Writer) int {
	dbPath := "xrbridge.db"
	// --db and --config may precede the migrate action.
	var rest []string
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--db", "--config":
			if i+1 >= len(args) {
				fmt.Fprintf(stderr, "%s requires a value\n", args[i])
				return 2
			}
			if args[i] == "--db" {
				dbPath = args[i+1]
			} else {
				configPath = args[i+1]
			}
			i++
		default:
			rest = append(rest, args[i])
		}
	}
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if dbPath == "xrbridge.db" {
			dbPath = cfg.GetDBPath()
		}
	}

	if err := db.RunMigrateCommand(rest, dbPath, stdout); err != nil {
		if errors.Is(err, db.ErrUsage) {
			return 2
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
