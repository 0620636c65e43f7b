// Command samguard is the autonomous-action safety core: a permission
// engine, command classifier, checkpoint store, audit log, and auto-fix
// controller, fronted by a Unix-socket daemon and a PermissionRequest
// hook client.
package main

import (
	"fmt"
	"os"

	"github.com/followthedavid/samguard/cmd/samguard/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
