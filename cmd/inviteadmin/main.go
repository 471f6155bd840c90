// Command inviteadmin is the operator CLI for managing invite tokens.
package main

import (
	"fmt"
	"os"

	"github.com/demolab/sessionbroker/cmd/inviteadmin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
