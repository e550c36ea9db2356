package contextcmd

import (
	"fmt"

	"pipesync/cmd/pipesync/ui"
	"pipesync/config"

	"github.com/spf13/cobra"
)

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Short:   "Remove a context",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Remove(name); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("Context %s removed.", ui.Bold(name)))
			return nil
		},
	}
}
