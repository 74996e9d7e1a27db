// Package main provides the Lumina CLI entrypoint.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/lumina/internal/config"
	"github.com/joss/lumina/internal/logging"
)

var (
	version = "0.1.0"

	configPath string
	serverURL  string
	userID     string
	noColor    bool
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lumina",
		Short: "Lumina - document-aware streaming chat",
		Long: `Lumina: chat with an assistant that can read your PDFs.

Usage modes:
  lumina serve      Run the HTTP API
  lumina chat       Start an interactive session against a running server
  lumina <command>  Run a specific command (see below)`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Existing process variables win over both files.
			_ = godotenv.Load(config.GetPaths().EnvFile)
			_ = godotenv.Load()
			config.ResetEnv()

			level := logLevel
			if level == "" {
				level = config.Env().LogLevel
			}
			if level != "" {
				logging.SetLevel(logging.ParseLevel(level))
			}

			if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.lumina/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Lumina server URL (default $LUMINA_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "Session user id (default: this device)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colour output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Minimum log level (debug, info, warn, error)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "client", Title: "Client:"},
	)

	serve := serveCmd()
	serve.GroupID = "server"
	rootCmd.AddCommand(serve)

	providers := providersCmd()
	providers.GroupID = "server"
	rootCmd.AddCommand(providers)

	chat := chatCmd()
	chat.GroupID = "client"
	rootCmd.AddCommand(chat)

	ingest := ingestCmd()
	ingest.GroupID = "client"
	rootCmd.AddCommand(ingest)

	clearC := clearCmd()
	clearC.GroupID = "client"
	rootCmd.AddCommand(clearC)

	doctor := doctorCmd()
	doctor.GroupID = "client"
	rootCmd.AddCommand(doctor)

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("lumina %s\n", version)
		},
	}
}
