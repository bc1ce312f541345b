package app

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

// buildInfo mirrors the camelCase field style of the server config
// records, so all JSON the binary emits reads the same.
type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
}

func versionCmd(args []string) int {
	return runVersionCmd(args, os.Stdout, os.Stderr)
}

func runVersionCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(stderr)
	long := fs.Bool("long", false, "include commit and build date")
	asJSON := fs.Bool("json", false, "emit machine-readable output")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "version: unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	info := buildInfo{Version: version, Commit: commit, BuildDate: buildDate}
	switch {
	case *asJSON:
		if err := json.NewEncoder(stdout).Encode(info); err != nil {
			fmt.Fprintf(stderr, "version: %v\n", err)
			return 1
		}
	case *long:
		fmt.Fprintf(stdout, "portier %s\ncommit: %s\nbuilt:  %s\n", info.Version, info.Commit, info.BuildDate)
	default:
		fmt.Fprintln(stdout, info.Version)
	}
	return 0
}
