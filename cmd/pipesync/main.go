package main

import (
	"fmt"
	"os"

	contextcmd "pipesync/cmd/pipesync/context"
	"pipesync/cmd/pipesync/cmdutil"
	devservercmd "pipesync/cmd/pipesync/devserver"
	groupscmd "pipesync/cmd/pipesync/groups"
	settingscmd "pipesync/cmd/pipesync/settings"
	topiccmd "pipesync/cmd/pipesync/topic"
	"pipesync/internal/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := logging.Configure(logging.LevelWarn, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	env := &cmdutil.Env{}
	root := &cobra.Command{
		Use:           "pipesync",
		Short:         "Follow pipeline execution state from a server",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.Init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			env.Close()
		},
	}
	env.Flags.Bind(root)

	root.AddCommand(topiccmd.WatchCmd(env))
	root.AddCommand(topiccmd.SnapshotCmd(env))
	root.AddCommand(groupscmd.Cmd(env))
	root.AddCommand(groupscmd.TagsCmd(env))
	root.AddCommand(settingscmd.Cmd(env))
	root.AddCommand(contextcmd.Cmd())
	root.AddCommand(devservercmd.Cmd(env))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
