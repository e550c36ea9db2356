package groupscmd

import (
	"fmt"

	"pipesync/cmd/pipesync/cmdutil"
	"pipesync/cmd/pipesync/ui"
	"pipesync/internal/session"

	"github.com/spf13/cobra"
)

// TagsCmd prints every project tag known to the server.
func TagsCmd(env *cmdutil.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List the tags used by projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := env.Source()
			if err != nil {
				return err
			}
			s, err := session.New(src, env.TransportOptions())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Seed(cmd.Context(), src); err != nil {
				return err
			}
			tags := s.Tags.Tags()
			if len(tags) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), ui.InfoMsg("No tags."))
				return nil
			}
			for _, tag := range tags {
				fmt.Fprintln(cmd.OutOrStdout(), tag)
			}
			return nil
		},
	}
}
