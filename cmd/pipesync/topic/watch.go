package topiccmd

import (
	"encoding/json"
	"fmt"
	"io"

	"pipesync/cmd/pipesync/cmdutil"
	"pipesync/cmd/pipesync/ui"
	"pipesync/internal/cache"
	"pipesync/internal/change"
	"pipesync/internal/transport"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// WatchCmd streams the change events of one topic to stdout.
func WatchCmd(env *cmdutil.Env) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "watch <topic>",
		Short: "Print the change events of a topic as they arrive",
		Long: "Print the change events of a topic. The current entities are printed\n" +
			"first as creates, then every change until interrupted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]
			ctx, stop := cmdutil.SignalContext(cmd)
			defer stop()

			src, err := env.Source()
			if err != nil {
				return err
			}

			c := cache.New[string, json.RawMessage](topic)
			defer c.Close()

			g, gctx := errgroup.WithContext(ctx)
			events, err := c.Watch(gctx)
			if err != nil {
				return err
			}
			a := transport.NewAdapter(topic, src, c, nil, env.TransportOptions())
			g.Go(func() error { return a.Run(gctx) })
			g.Go(func() error {
				out := cmd.OutOrStdout()
				for ev := range events {
					if err := printEvent(out, ev, asJSON); err != nil {
						return err
					}
				}
				return nil
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")
	return cmd
}

func printEvent(w io.Writer, ev change.Event[string, json.RawMessage], asJSON bool) error {
	if asJSON {
		wire, err := change.Encode(ev)
		if err != nil {
			return err
		}
		data, err := json.Marshal(wire)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if ev.Kind == change.KindDelete {
		_, err := fmt.Fprintf(w, "%s %s\n", ui.Kind(ev.Kind), ui.Bold(ev.ID))
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s %s\n", ui.Kind(ev.Kind), ui.Bold(ev.ID), ui.Muted(string(ev.Value)))
	return err
}
