// Command imagectl derives a single image artifact locally, the same way the
// /image endpoint would, and writes it to a file or stdout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "imagectl",
		Short:         "imagectl - validate and derive image transformations offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDeriveCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
