package settingscmd

import (
	"fmt"
	"slices"

	"pipesync/cmd/pipesync/cmdutil"
	"pipesync/cmd/pipesync/ui"

	"github.com/spf13/cobra"
)

// Cmd returns "pipesync settings" and its get/set/rm/list subcommands.
func Cmd(env *cmdutil.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write local preferences",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := env.OpenSettings(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			value, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := env.OpenSettings(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Set %s.", ui.Bold(args[0])))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "rm <key>",
		Short:   "Remove a setting",
		Aliases: []string{"remove"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := env.OpenSettings(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Removed %s.", ui.Bold(args[0])))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List every setting",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := env.OpenSettings(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.InfoMsg("No settings."))
				return nil
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			slices.Sort(keys)

			pairs := make([]ui.Pair, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, ui.KV(k, all[k]))
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.KeyValues("", pairs...))
			return nil
		},
	})
	return cmd
}
