// Command licensectl issues, verifies and redeems Pro license tokens, and
// inspects the entitlement stored on this machine.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
