// Package main is the entry point for the streamchat CLI.
package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and returns the exit code.
// 0 = success, 2 = error.
func run(args []string) int {
	fs := flag.NewFlagSet("streamchat", flag.ContinueOnError)

	var versionFlag bool
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: streamchat <command> [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  serve          Host the streaming relay\n")
		fmt.Fprintf(os.Stderr, "  chat           Chat with a relay from the terminal\n")
		fmt.Fprintf(os.Stderr, "  mcp            Start the MCP server on stdio\n")
		fmt.Fprintf(os.Stderr, "  version        Print version and exit\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if versionFlag {
		printVersion()
		return 0
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: streamchat <command> [flags]")
		return 2
	}

	command := remaining[0]
	switch command {
	case "serve":
		return runServe(remaining[1:])
	case "chat":
		return runChat(remaining[1:])
	case "mcp":
		return runMCP(remaining[1:])
	case "version":
		printVersion()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		fmt.Fprintln(os.Stderr, "Usage: streamchat <command> [flags]")
		return 2
	}
}

func printVersion() {
	fmt.Printf("streamchat %s (commit: %s, built: %s)\n", version, commit, date)
}
