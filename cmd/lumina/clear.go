package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear this device's conversation history on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := newClient().Clear(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, newRenderer(out).Success(msg))
			return nil
		},
	}
}
