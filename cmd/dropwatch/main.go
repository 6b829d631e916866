package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

// action is one "<noun> <action>" command.
type action struct {
	name string
	run  func(args []string) int
	help []string
}

type noun struct {
	name    string
	usage   string
	actions []action
}

func (n noun) printHelp(w io.Writer) {
	names := make([]string, len(n.actions))
	for i, a := range n.actions {
		names[i] = a.name
	}
	fmt.Fprintf(w, "Usage: dropwatch %s %s\n", n.name, n.usage)
	fmt.Fprintf(w, "Actions: %s\n", strings.Join(names, ", "))
}

// run dispatches args[0] to an action. Help for the noun goes to stdout when
// asked for and to stderr when no action was given.
func (n noun) run(args []string) int {
	if len(args) == 0 {
		n.printHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		n.printHelp(os.Stdout)
		return 0
	}
	for _, a := range n.actions {
		if a.name != args[0] {
			continue
		}
		if hasHelpFlag(args[1:]) {
			fmt.Println(strings.Join(a.help, "\n"))
			return 0
		}
		return a.run(args[1:])
	}
	fmt.Fprintf(os.Stderr, "Unknown %s action: %s\n", n.name, args[0])
	n.printHelp(os.Stderr)
	return 1
}

func nouns() []noun {
	return []noun{
		{name: "system", usage: "<action>", actions: []action{
			{name: "start", run: runStart, help: []string{
				"Usage: dropwatch system start [--config PATH]",
				"Watch the input directory and dispatch one job at a time, in the foreground.",
			}},
			{name: "watch", run: runWatch, help: []string{
				"Usage: dropwatch system watch [flags]",
				"",
				"Real-time monitoring TUI. Shows dispatcher health, recent jobs and the event stream.",
				"",
				"Flags:",
				"  --api-url URL    API URL (default: http://127.0.0.1:8080)",
				"  --api-key KEY    API Bearer Token (or DROPWATCH_API_KEY env var)",
				"",
				"Keys: q or Ctrl+C quits, ↑/↓ or k/j moves through jobs.",
			}},
		}},
		{name: "config", usage: "<action> [flags]", actions: []action{
			{name: "check", run: runConfigCheck, help: []string{
				"Usage: dropwatch config check [--config PATH] [--json] [--strict]",
				"Validate configuration syntax, integrity and the directories and launcher it names.",
				"--strict treats warnings as errors.",
			}},
			{name: "lock", run: runConfigLock, help: []string{
				"Usage: dropwatch config lock [--config PATH] [--dry-run]",
				"Record the config file's BLAKE3 hash so later edits are refused until relocked.",
			}},
			{name: "show", run: runConfigShow, help: []string{
				"Usage: dropwatch config show [--config PATH] [--json]",
				"Print the resolved configuration. Keys, tokens and webhook secrets are masked.",
			}},
		}},
		{name: "job", usage: "<action>", actions: []action{
			{name: "parse", run: runJobParse, help: []string{
				"Usage: dropwatch job parse <file> [--json] [--suffix SUFFIX]",
				"Read a descriptor file once it is ready and show the job it describes.",
			}},
			{name: "inspect", run: runInspect, help: []string{
				"Usage: dropwatch job inspect <job_id> [--config PATH] [--json]",
				"Show a job's recorded transitions and whether its descriptor and marker exist.",
			}},
		}},
	}
}

func runCLI(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 1
	}
	cmd, rest := args[0], args[1:]

	for _, n := range nouns() {
		if n.name == cmd {
			return n.run(rest)
		}
	}

	switch cmd {
	case "start":
		return runStart(rest)
	case "inspect":
		return runInspect(rest)
	case "version", "--version":
		return runVersion(rest)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
	printUsage(os.Stderr)
	return 1
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `dropwatch - file-drop triggered job dispatcher

Usage:
  dropwatch <noun> <action> [flags]

Nouns:
  system    Dispatcher lifecycle and monitoring
  config    Configuration and integrity
  job       Descriptors and job history

  system start      Watch the input directory and dispatch jobs (foreground)
  system watch      Real-time monitoring TUI
  config check      Validate configuration against the host
  config lock       Record the config hash in .checksums
  config show       Print the resolved configuration with secrets masked
  job parse <file>  Parse a descriptor file as the dispatcher would
  job inspect <id>  Show a job's recorded lifecycle and its files

Shortcuts: start, inspect, version (--version), help.
Use 'dropwatch <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
