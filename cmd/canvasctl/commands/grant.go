package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/canvaslink/canvaslink/internal/domain"
)

func newGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <canvas-id> <user-id> <level>",
		Short: "Grant a user a permission level on a canvas (R|W|V|M|O|C)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			canvasID, userIDArg, levelArg := args[0], args[1], args[2]

			userID, err := strconv.ParseInt(userIDArg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", userIDArg, err)
			}

			level := domain.Level(levelArg)
			if !level.Valid() {
				return fmt.Errorf("unrecognized permission level %q", levelArg)
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetPermission(context.Background(), canvasID, userID, level); err != nil {
				return fmt.Errorf("grant %s on %s to user %d: %w", level, canvasID, userID, err)
			}
			fmt.Printf("granted %s on canvas %s to user %d\n", level, canvasID, userID)
			return nil
		},
	}
}
