package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/lumina/internal/config"
	"github.com/joss/lumina/internal/provider"
)

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List completion providers and models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			kind, err := provider.ParseProviderType(cfg.Chat.Provider)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			r := newRenderer(out)
			fmt.Fprint(out, r.Providers(provider.Catalog().List(), string(kind)))

			env := config.Env()
			fmt.Fprintln(out)
			fmt.Fprintln(out, r.Section("keys"))
			fmt.Fprintln(out, r.Check(env.GroqKey != "", "groq"))
			fmt.Fprintln(out, r.Check(env.GoogleKey != "", "google"))
			fmt.Fprintln(out, r.Check(env.AnthropicKey != "", "anthropic"))
			fmt.Fprintln(out, r.Check(env.OpenAIKey != "", "openai"))
			return nil
		},
	}
}
