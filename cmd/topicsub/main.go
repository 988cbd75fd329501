// Command topicsub subscribes to the configured topics over one shared
// pub/sub connection, falling back to HTTP polling while it is down.
package main

import (
	"fmt"
	"os"
)

// Version information (set by ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
