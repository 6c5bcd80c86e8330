// Command latticed runs a block-lattice ledger node: it serves the
// client/peer JSON-over-WebSocket protocol on its primary port and the
// ledger-sync snapshot protocol on primary+1.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.WithField("component", "cmd")

func main() {
	root := &cobra.Command{Use: "latticed"}
	root.AddCommand(keygenCmd())
	root.AddCommand(startCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
