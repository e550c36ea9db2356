package contextcmd

import (
	"fmt"
	"sort"

	"pipesync/cmd/pipesync/ui"
	"pipesync/config"

	"github.com/spf13/cobra"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List available contexts",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if len(cfg.Contexts) == 0 {
				fmt.Println(ui.InfoMsg("No contexts configured."))
				return nil
			}

			names := make([]string, 0, len(cfg.Contexts))
			for name := range cfg.Contexts {
				names = append(names, name)
			}
			sort.Strings(names)

			var rows [][]string
			for _, name := range names {
				c := cfg.Contexts[name]
				current := ""
				if name == cfg.CurrentContext {
					current = "*"
				}
				auth := "none"
				if c.Token != "" {
					auth = "token"
				}
				rows = append(rows, []string{current, name, c.Server, auth})
			}

			fmt.Println(ui.Table([]string{"", "NAME", "SERVER", "AUTH"}, rows))
			return nil
		},
	}
}
