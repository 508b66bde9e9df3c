// Package commands implements canvasctl's cobra command tree, following
// jholhewres-goclaw/cmd/devclaw/commands/root.go's NewRootCmd shape: one
// constructor building a root command with every subcommand registered.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canvaslink/canvaslink/internal/credentialstore"
	"github.com/canvaslink/canvaslink/internal/refreshregistry"
	"github.com/canvaslink/canvaslink/pkg/config"
)

// NewRootCmd builds canvasctl's root command with every subcommand
// registered: grant, revoke, moderate, canvases.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "canvasctl",
		Short: "Operate on canvaslink's Credential Store directly",
		Long: `canvasctl talks to canvaslink's Credential Store without going through
the HTTP API — a bypass for operators who need to grant or revoke access,
toggle moderation, or inspect canvases without a browser session.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newGrantCmd(),
		newRevokeCmd(),
		newModerateCmd(),
		newCanvasesCmd(),
	)

	return root
}

// openStore loads configuration and connects to the Credential Store.
// canvasctl always runs as a short-lived process, so it builds its own
// Refresh Registry and skips the permission cache: a CLI invocation's RR
// mark does not reach the live server's in-memory registry anyway (the
// two run in separate processes), so the grant is visible to the target
// user only once the server's soft-refresh window for that user's token
// elapses, not immediately as an HTTP call would guarantee.
func openStore() (*credentialstore.Store, error) {
	if err := config.InitConfig(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg := config.Get()

	rr := refreshregistry.New()
	store, err := credentialstore.Open(credentialstore.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}, rr, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to credential store: %w", err)
	}
	return store, nil
}
