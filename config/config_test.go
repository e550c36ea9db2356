package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Log.Level != "warn" || cfg.Settings.Backend != BackendSQLite {
		t.Fatalf("defaults = %+v", cfg)
	}
	if time.Duration(cfg.Transport.MaxBackoff) != 15*time.Second {
		t.Fatalf("max backoff = %s, want 15s", time.Duration(cfg.Transport.MaxBackoff))
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() defaults error = %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
current-context: staging
contexts:
  local: {server: "http://127.0.0.1:8080"}
  staging: {server: "https://pipes.example.com", token: abc}
log: {level: debug, format: json}
transport: {initial_backoff: 250ms, max_backoff: 5s, max_attempts: 4}
settings: {backend: redis, redis_addr: "127.0.0.1:6379"}
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	want := Transport{InitialBackoff: Duration(250 * time.Millisecond), MaxBackoff: Duration(5 * time.Second), MaxAttempts: 4}
	if diff := cmp.Diff(want, cfg.Transport); diff != "" {
		t.Fatalf("transport mismatch (-want +got):\n%s", diff)
	}
	if cfg.Settings.RedisPrefix != "pipesync" {
		t.Fatalf("redis prefix = %q, want default kept", cfg.Settings.RedisPrefix)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	name, ctx, ok := cfg.Current()
	if !ok || name != "staging" || ctx.Token != "abc" {
		t.Fatalf("Current() = %q, %+v, %v", name, ctx, ok)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Set("local", Context{Server: "http://localhost:8080"})
	if err := cfg.Use("local"); err != nil {
		t.Fatal(err)
	}
	cfg.Transport.InitialBackoff = Duration(2 * time.Second)
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "initial_backoff: 2s") {
		t.Fatalf("saved config does not use duration strings:\n%s", raw)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestContextLifecycle(t *testing.T) {
	cfg := Default()
	if err := cfg.Use("nope"); err == nil {
		t.Fatal("Use() of unknown context succeeded")
	}
	cfg.Set("a", Context{Server: "http://a:1"})
	if err := cfg.Use("a"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Remove("a"); err != nil {
		t.Fatal(err)
	}
	if cfg.CurrentContext != "" {
		t.Fatalf("current context = %q after removing it", cfg.CurrentContext)
	}
	if err := cfg.Remove("a"); err == nil {
		t.Fatal("second Remove() succeeded")
	}
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.Set("local", Context{Server: "http://127.0.0.1:8080"})
	cfg.Set("prod", Context{Server: "https://prod.example.com", Token: "file-token"})
	cfg.CurrentContext = "local"

	tests := []struct {
		name    string
		arg     string
		env     map[string]string
		want    Target
		wantErr string
	}{
		{
			name: "current context",
			want: Target{Context: "local", Server: "http://127.0.0.1:8080"},
		},
		{
			name: "flag wins over env context",
			arg:  "prod",
			env:  map[string]string{EnvContext: "local"},
			want: Target{Context: "prod", Server: "https://prod.example.com", Token: "file-token"},
		},
		{
			name: "env context",
			env:  map[string]string{EnvContext: "prod"},
			want: Target{Context: "prod", Server: "https://prod.example.com", Token: "file-token"},
		},
		{
			name: "env server and token override",
			arg:  "prod",
			env:  map[string]string{EnvServer: "http://override:9000", EnvToken: "env-token"},
			want: Target{Context: "prod", Server: "http://override:9000", Token: "env-token"},
		},
		{
			name:    "unknown context",
			arg:     "missing",
			wantErr: `context "missing" not found`,
		},
		{
			name:    "invalid server",
			env:     map[string]string{EnvServer: "ftp://nope"},
			wantErr: "invalid server",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{EnvServer, EnvToken, EnvContext} {
				t.Setenv(key, tt.env[key])
			}
			got, err := cfg.Resolve(tt.arg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveWithoutServer(t *testing.T) {
	t.Setenv(EnvServer, "")
	t.Setenv(EnvContext, "")
	if _, err := Default().Resolve(""); err == nil || !strings.Contains(err.Error(), EnvServer) {
		t.Fatalf("Resolve() error = %v, want hint about %s", err, EnvServer)
	}
}

func TestValidateReportsEverySection(t *testing.T) {
	cfg := Default()
	cfg.CurrentContext = "ghost"
	cfg.Contexts["bad"] = Context{Server: "not a url"}
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Transport.InitialBackoff = Duration(10 * time.Second)
	cfg.Transport.MaxBackoff = Duration(time.Second)
	cfg.Settings.Backend = "redis"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() succeeded")
	}
	for _, want := range []string{"ghost", `context "bad"`, "invalid log level", "invalid format", "max_backoff", "redis_addr"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error missing %q:\n%v", want, err)
		}
	}
}

func TestEnvFileOverlay(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte(EnvLogLevel+"=debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvLogLevel, "")
	os.Unsetenv(EnvLogLevel)

	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFile(missing) error = %v", err)
	}
	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q, want debug from .env", cfg.Log.Level)
	}
}
