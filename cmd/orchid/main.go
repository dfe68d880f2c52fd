// Command orchid runs the agent orchestration engine, either as a one-shot
// CLI run or as an HTTP server.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
