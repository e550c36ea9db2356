package devservercmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"pipesync/cmd/pipesync/cmdutil"
	"pipesync/config"
	"pipesync/internal/transport/streamserver"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Cmd returns "pipesync devserver", a local stream server fed from a YAML
// fixture.
func Cmd(env *cmdutil.Env) *cobra.Command {
	var addr, fixture, token, logLevel string
	var watch bool

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve topics from a fixture file for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := cmdutil.SignalContext(cmd)
			defer stop()

			if token == "" {
				token = os.Getenv(config.EnvToken)
			}
			if logLevel == "" && env.Flags.Debug {
				logLevel = "debug"
			}
			srv := streamserver.New(streamserver.Options{Token: token, LogLevel: logLevel})

			if fixture = strings.TrimSpace(fixture); fixture != "" {
				n, err := srv.LoadFixture(fixture)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "[pipesync] loaded %s: %d entities\n", fixture, n)
				if watch {
					if err := srv.WatchFixture(ctx, fixture); err != nil {
						return err
					}
				}
			}

			fmt.Fprintf(os.Stderr, "[pipesync] stream server listening on %s\n", addr)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(addr) })
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().StringVar(&fixture, "fixture", "", "YAML fixture of {topic: {id: value}}")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload the fixture when it changes")
	cmd.Flags().StringVar(&token, "token", "", "Require this bearer token (default $PIPESYNC_TOKEN)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "HTTP log level: debug, info, warn, error, off")
	return cmd
}
