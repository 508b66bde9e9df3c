// Command canvasctl is an operator tool that talks directly to the
// Credential Store, bypassing HTTP, the way jholhewres-goclaw's and
// haasonsaas-nexus's own cobra command trees sit alongside their servers
// for direct operational access.
package main

import (
	"fmt"
	"os"

	"github.com/canvaslink/canvaslink/cmd/canvasctl/commands"
	"github.com/canvaslink/canvaslink/pkg/fwlog"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fwlog.Errorf("canvasctl: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
