package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lithos/pkg/errs"
	"lithos/pkg/tree"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lithos-tree: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "lithos-tree",
	Short: "Lithos root supervisor",
	Long: `lithos-tree is the single long-lived process per host that reads the
master configuration, reconciles the desired set of container instances
against what's actually running, and supervises every knot it spawns.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		masterPath, _ := cmd.Flags().GetString("config")
		knotBinary, _ := cmd.Flags().GetString("knot-binary")
		logStderr, _ := cmd.Flags().GetBool("log-stderr")

		t, err := tree.New(tree.Options{
			MasterPath: masterPath,
			KnotBinary: knotBinary,
			LogStderr:  logStderr,
		})
		if err != nil {
			return err
		}
		return t.Run()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("lithos-tree version %s (%s)\n", Version, Commit))
	rootCmd.Flags().String("config", "/etc/lithos/master.yaml", "path to the master configuration file")
	rootCmd.Flags().String("knot-binary", "", "path to the lithos-knot binary (defaults to the sibling of this binary)")
	rootCmd.Flags().Bool("log-stderr", false, "also write log output to stderr")
}

// exitCodeFor maps a fatal Run error to the process exit code documented
// for the tree: 1 for a generic fatal error, 127 if the knot helper binary
// itself could not be found or started.
func exitCodeFor(err error) int {
	if errs.Is(err, errs.Process) {
		return 127
	}
	return 1
}
