// Package cmdutil holds the state shared by every pipesync command.
package cmdutil

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pipesync/cmd/pipesync/ui"
	"pipesync/config"
	"pipesync/internal/logging"
	"pipesync/internal/settings"
	"pipesync/internal/telemetry"
	"pipesync/internal/transport"

	"github.com/spf13/cobra"
)

// Flags are the persistent flags of the root command.
type Flags struct {
	Context       string
	Server        string
	Debug         bool
	Trace         bool
	NoInteraction bool
}

func (f *Flags) Bind(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.Context, "context", "", "Context name to use")
	cmd.PersistentFlags().StringVar(&f.Server, "server", "", "Server URL, overriding the context")
	cmd.PersistentFlags().BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&f.Trace, "trace", false, "Log transport spans")
	cmd.PersistentFlags().BoolVar(&f.NoInteraction, "no-interaction", false, "Disable colors and interactive output")
}

// Env is populated by the root command before any subcommand runs.
type Env struct {
	Flags  Flags
	Config *config.Config

	telemetry *telemetry.Provider
}

// Init loads .env and the config file, then configures logging, output and
// tracing.
func (e *Env) Init() error {
	if err := config.LoadEnvFile(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if e.Flags.Debug {
		cfg.Log.Level = logging.LevelDebug
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", config.Path(), err)
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	ui.ConfigureInteraction(e.Flags.NoInteraction)

	e.Config = cfg
	if e.Flags.Trace {
		e.telemetry = telemetry.NewProvider(nil)
	}
	return nil
}

func (e *Env) Close() {
	e.telemetry.Close()
}

// Target resolves the server for this invocation; --server wins.
func (e *Env) Target() (config.Target, error) {
	if server := strings.TrimSpace(e.Flags.Server); server != "" {
		t, err := e.Config.Resolve(e.Flags.Context)
		if err != nil {
			t = config.Target{Context: e.Flags.Context}
		}
		t.Server = server
		return t, nil
	}
	return e.Config.Resolve(e.Flags.Context)
}

// Source returns an HTTP source for the resolved server. Streams stay open
// indefinitely, so the client has no overall timeout.
func (e *Env) Source() (*transport.HTTPSource, error) {
	t, err := e.Target()
	if err != nil {
		return nil, err
	}
	return transport.NewHTTPSource(t.Server, t.Token, &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}), nil
}

// TransportOptions maps the config's transport section.
func (e *Env) TransportOptions() transport.Options {
	tr := e.Config.Transport
	return transport.Options{
		InitialBackoff: time.Duration(tr.InitialBackoff),
		MaxBackoff:     time.Duration(tr.MaxBackoff),
		MaxAttempts:    tr.MaxAttempts,
		TracerProvider: e.telemetry.TracerProvider(),
	}
}

func (e *Env) OpenSettings(ctx context.Context) (settings.Store, error) {
	s := e.Config.Settings
	return settings.Open(ctx, settings.Options{
		Backend:     s.Backend,
		Path:        s.Path,
		RedisAddr:   s.RedisAddr,
		RedisPrefix: s.RedisPrefix,
	})
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
