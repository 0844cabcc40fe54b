package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// transactionCmd, commitCmd, and pushCmd stub out spec.md §6's
// publishing workflow (open a writable transaction against the mounted
// revision, commit it into a new catalog, and push the result to the
// object network and trust-anchor contract). Per spec.md §1's scope
// statement this repository implements the read-only mount path only;
// these exist so `qfs --help` documents the full command surface a
// published revision's lifecycle implies, without pretending to
// support it.
var transactionCmd = &cobra.Command{
	Use:   "transaction",
	Short: "Open a writable transaction against the mounted revision (not yet implemented)",
	RunE:  notImplemented,
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit an open transaction into a new catalog revision (not yet implemented)",
	RunE:  notImplemented,
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Publish a committed revision to the object network and trust anchor (not yet implemented)",
	RunE:  notImplemented,
}

func notImplemented(cmd *cobra.Command, args []string) error {
	return fmt.Errorf("qfs %s: not implemented; this build only serves read-only mounts", cmd.Name())
}
