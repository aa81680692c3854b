package main

import (
	"fmt"
	"os"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// AppName prefixes log files and names the binary.
const AppName = "marker_relay"

func main() {
	setVersionInfo(version, commit, date)

	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
