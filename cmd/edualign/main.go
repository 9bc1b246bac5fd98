// Command edualign segments time-coded transcripts into elementary discourse
// units and realigns the units with the original timing.
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "edualign: %v\n", err)
		return 1
	}
	return 0
}
