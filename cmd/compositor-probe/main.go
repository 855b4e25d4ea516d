// Command compositor-probe drives composition channels against the
// in-process loopback engine.
//
//	compositor-probe run scenario.yaml [more.yaml...]
//	compositor-probe encode guidelines --handle 3 --x 3.5,-1 --y 10
//	compositor-probe watch
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
