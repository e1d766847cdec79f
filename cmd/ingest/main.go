// ingest polls the CHART incident feed and the WTOP traffic page, normalizes
// both into canonical incidents and persists them.
//
// Usage:
//
//	ingest [serve]             run the scheduler and health server (default)
//	ingest once [--source S]   run a single cycle and print per-source counts
//	ingest migrate             create tables and indexes
package main

import (
	"fmt"
	"os"

	// Embedded zone database for WTOP_TIMEZONE in minimal images.
	_ "time/tzdata"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
