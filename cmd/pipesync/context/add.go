package contextcmd

import (
	"fmt"
	"strings"

	"pipesync/cmd/pipesync/ui"
	"pipesync/config"

	"github.com/spf13/cobra"
)

func addCmd() *cobra.Command {
	var server, token string
	var use bool

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			name := args[0]
			if strings.TrimSpace(server) == "" {
				return fmt.Errorf("--server is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Set(name, config.Context{Server: server, Token: token})
			if use || cfg.CurrentContext == "" {
				cfg.CurrentContext = name
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("Context %s saved.", ui.Bold(name)))
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server URL (e.g. http://127.0.0.1:8080)")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token")
	cmd.Flags().BoolVar(&use, "use", false, "Make it the current context")
	return cmd
}
