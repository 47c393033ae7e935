// Package main provides offlinectl, which inspects and maintains the
// offline data directory: the pending operation queue, cached entities and
// the response cache.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
