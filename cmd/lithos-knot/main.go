// lithos-knot is never invoked directly by a user: the tree spawns it with
// a fixed argv (see pkg/knot.Argv) and later re-identifies it during the
// adoption scan by comparing /proc/<pid>/cmdline against that exact argv,
// so this entrypoint parses os.Args by hand instead of through a flag
// library that might reorder or drop arguments.
package main

import (
	"fmt"
	"os"

	"lithos/pkg/knot"
	"lithos/pkg/secrets"
)

func main() {
	opts, err := knot.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "lithos-knot: %v\n", err)
		os.Exit(1)
	}

	policy := secrets.Policy{AllowV1: os.Getenv("LITHOS_ALLOW_LEGACY_SECRETS") == "1"}

	k, err := knot.New(opts, policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lithos-knot: %v\n", err)
		os.Exit(1)
	}

	if err := k.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "lithos-knot: %v\n", err)
		os.Exit(1)
	}
}
