package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"os"

	"github.com/spf13/cobra"
)

func newCanvasesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "canvases",
		Short: "List every canvas with its owner and moderation state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			canvases, err := store.ListAllCanvases(context.Background())
			if err != nil {
				return fmt.Errorf("list canvases: %w", err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CANVAS_ID\tNAME\tOWNER_USER_ID\tMODERATED")
			for _, c := range canvases {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%v\n", c.CanvasID, c.Name, c.OwnerUserID, c.Moderated)
			}
			return tw.Flush()
		},
	}
}
