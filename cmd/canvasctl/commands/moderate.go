package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newModerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "moderate <canvas-id> <on|off>",
		Short: "Toggle a canvas's moderation flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			canvasID, state := args[0], args[1]

			var moderated bool
			switch state {
			case "on":
				moderated = true
			case "off":
				moderated = false
			default:
				return fmt.Errorf("expected \"on\" or \"off\", got %q", state)
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.SetModerated(context.Background(), canvasID, moderated); err != nil {
				return fmt.Errorf("set moderated=%v on %s: %w", moderated, canvasID, err)
			}
			fmt.Printf("canvas %s moderated=%v\n", canvasID, moderated)
			return nil
		},
	}
}
