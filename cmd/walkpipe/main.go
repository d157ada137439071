// walkpipe compiles and runs walker pipelines over memory snapshots.
//
// Usage:
//
//	walkpipe pipe --snapshot core.yaml 'linked-list head; next | count'
//	walkpipe walker list [--tag data]
//	walkpipe walker help called-functions
//	walkpipe serve --snapshot core.yaml [--metrics-addr :9090]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
