package groupscmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"pipesync/cmd/pipesync/cmdutil"
	"pipesync/cmd/pipesync/ui"
	"pipesync/internal/change"
	"pipesync/internal/pipeline"
	"pipesync/internal/session"
	"pipesync/internal/settings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// SettingProject remembers the project filter between runs.
const SettingProject = "groups.project"

const renderDelay = 150 * time.Millisecond

// Cmd returns "pipesync groups".
func Cmd(env *cmdutil.Env) *cobra.Command {
	var project string
	var once, remember bool

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Show execution groups and their relevant state",
		Long: "Show one row per execution group. Without --once the table is redrawn\n" +
			"whenever a group or project state changes.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := cmdutil.SignalContext(cmd)
			defer stop()

			project = resolveProject(ctx, env, project, remember)

			src, err := env.Source()
			if err != nil {
				return err
			}
			s, err := session.New(src, env.TransportOptions())
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if once {
				if err := s.Seed(ctx, src); err != nil {
					return err
				}
				render(out, s.Summaries(project), false)
				return nil
			}

			dirty := make(chan struct{}, 1)
			mark := func() {
				select {
				case dirty <- struct{}{}:
				default:
				}
			}
			groupsSub, err := s.Groups.Subscribe(func(change.Event[string, pipeline.ExecutionGroup]) { mark() })
			if err != nil {
				return err
			}
			defer groupsSub.Cancel()
			statesSub, err := s.ProjectStates.Subscribe(func(change.Event[string, pipeline.ProjectState]) { mark() })
			if err != nil {
				return err
			}
			defer statesSub.Cancel()
			mark()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return s.Run(gctx) })
			g.Go(func() error {
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-dirty:
					}
					// Coalesce bursts such as a resync into one redraw.
					select {
					case <-gctx.Done():
						return nil
					case <-time.After(renderDelay):
					}
					select {
					case <-dirty:
					default:
					}
					render(out, s.Summaries(project), ui.IsInteractive())
				}
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Only show groups of this project")
	cmd.Flags().BoolVar(&once, "once", false, "Print the current groups and exit")
	cmd.Flags().BoolVar(&remember, "remember", false, "Save --project as the default filter")
	return cmd
}

// resolveProject falls back to the remembered filter. Settings failures only
// cost the default, so they are logged rather than returned.
func resolveProject(ctx context.Context, env *cmdutil.Env, project string, remember bool) string {
	project = strings.TrimSpace(project)
	store, err := env.OpenSettings(ctx)
	if err != nil {
		slog.Debug("settings unavailable", "err", err)
		return project
	}
	defer store.Close()

	if project != "" {
		if remember {
			if err := store.Set(ctx, SettingProject, project); err != nil {
				slog.Warn("remember project filter", "err", err)
			}
		}
		return project
	}
	saved, err := store.Get(ctx, SettingProject)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			slog.Debug("read project filter", "err", err)
		}
		return ""
	}
	return saved
}

func render(w io.Writer, sums []pipeline.GroupSummary, redraw bool) {
	if redraw {
		fmt.Fprint(w, "\x1b[H\x1b[2J")
	}
	if len(sums) == 0 {
		fmt.Fprintln(w, ui.InfoMsg("No execution groups."))
		return
	}
	fmt.Fprintln(w, ui.GroupTable(sums))
}
