package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/canvaslink/canvaslink/internal/domain"
)

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <canvas-id> <user-id>",
		Short: "Revoke a user's permission grant on a canvas entirely",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			canvasID, userIDArg := args[0], args[1]

			userID, err := strconv.ParseInt(userIDArg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", userIDArg, err)
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetPermission(context.Background(), canvasID, userID, domain.LevelNone); err != nil {
				return fmt.Errorf("revoke on %s for user %d: %w", canvasID, userID, err)
			}
			fmt.Printf("revoked all access on canvas %s for user %d\n", canvasID, userID)
			return nil
		},
	}
}
