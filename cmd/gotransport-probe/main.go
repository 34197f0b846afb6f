// Command gotransport-probe is a thin CLI that drives one request through
// a configured node pool and prints the resulting audit trail — useful
// for sanity-checking a cluster's reachability and sniff behavior without
// writing Go code.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
