package topiccmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"pipesync/cmd/pipesync/cmdutil"
	"pipesync/internal/change"

	"github.com/spf13/cobra"
)

// SnapshotCmd prints the current entities of a topic as one JSON object.
func SnapshotCmd(env *cmdutil.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <topic>",
		Short: "Print the current entities of a topic as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := args[0]
			src, err := env.Source()
			if err != nil {
				return err
			}
			wires, err := src.List(cmd.Context(), topic)
			if err != nil {
				return err
			}

			entities := make(map[string]json.RawMessage, len(wires))
			for _, w := range wires {
				ev, err := change.Decode(w, change.JSONCodec[json.RawMessage])
				if err != nil {
					slog.Warn("snapshot skipped entity", "topic", topic, "err", err)
					continue
				}
				entities[ev.ID] = ev.Value
			}

			data, err := json.MarshalIndent(entities, "", "  ")
			if err != nil {
				return fmt.Errorf("encode %s snapshot: %w", topic, err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
