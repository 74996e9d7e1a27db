package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/lumina/internal/config"
	"github.com/joss/lumina/internal/health"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the server and local configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			r := newRenderer(out)
			env := config.Env()
			c := newClient()

			fmt.Fprintln(out, r.Section("client"))
			fmt.Fprintln(out, r.Field("server", resolveServerURL()))
			fmt.Fprintln(out, r.Field("user", c.UserID()))
			fmt.Fprintln(out, r.Check(env.GroqKey != "", "groq key"))
			fmt.Fprintln(out, r.Check(env.GoogleKey != "", "google key"))
			fmt.Fprintln(out)

			fmt.Fprintln(out, r.Section("server"))
			report, err := c.Health(cmd.Context())
			if err != nil {
				fmt.Fprintln(out, r.Error(err.Error()))
				return errors.New("server unreachable")
			}
			fmt.Fprint(out, report.Summary())
			if report.Status == health.Unhealthy {
				return errors.New("server unhealthy")
			}
			return nil
		},
	}
}
