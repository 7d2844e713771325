package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/kassa/internal/config"
	"github.com/soyeahso/kassa/internal/store"
	"github.com/soyeahso/kassa/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show kassa status and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kassa %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:    %s\n", paths.Config)
			fmt.Fprintf(out, "Database:  %s\n", paths.Database)
			fmt.Fprintf(out, "Logs:      %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:    not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:    error loading: %v\n", err)
				return nil
			}

			models := strings.Join(append([]string{cfg.LLM.Model}, cfg.LLM.Fallbacks...), " -> ")
			fmt.Fprintf(out, "LLM:       provider=%s models=%s\n", cfg.LLM.Provider, models)
			fmt.Fprintf(out, "Kassalapp: %s key=%s\n", cfg.Kassalapp.BaseURL, present(cfg.Kassalapp.APIKey))
			fmt.Fprintf(out, "Tools:     %s\n", strings.Join(cfg.Assistant.Tools, ", "))

			knowledge := paths.KnowledgeDir(cfg.Retrieval.KnowledgeDir)
			fmt.Fprintf(out, "Retrieval: mode=%s n=%d dir=%s", cfg.Retrieval.Mode, cfg.Retrieval.NResults, knowledge)
			if _, err := os.Stat(paths.Database); err == nil {
				db, err := store.Open(paths.Database, log)
				if err == nil {
					n, err := store.NewKnowledgeStore(db).Count(cmd.Context())
					if err == nil {
						fmt.Fprintf(out, " chunks=%d", n)
					}
					db.Close()
				}
			}
			fmt.Fprintln(out)

			fmt.Fprintf(out, "Session:   store=%s scope=%s\n", cfg.Session.Store, cfg.Session.Scope)
			fmt.Fprintf(out, "Gateway:   port=%d bind=%s auth=%s\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode)

			if irc := cfg.Channels.IRC; irc != nil {
				fmt.Fprintf(out, "IRC:       server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Fprintln(out, "IRC:       (not configured)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			return nil
		},
	}

	return cmd
}

func present(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "set"
}
