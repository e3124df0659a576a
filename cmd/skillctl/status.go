package main

import (
	"fmt"
	"strings"

	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and model service status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := newClient(serverURL)
		out := cmd.OutOrStdout()

		var health struct {
			Status   string `json:"status"`
			Skills   int    `json:"skills"`
			Sessions int    `json:"sessions"`
		}
		if err := c.do(cmd.Context(), "GET", "/api/health", nil, &health); err != nil {
			return err
		}
		fmt.Fprintf(out, "Server %s: %s (%d skills, %d active conversations)\n", c.base, health.Status, health.Skills, health.Sessions)

		var st provider.Status
		if err := c.do(cmd.Context(), "GET", "/api/status", nil, &st); err != nil {
			return err
		}
		icon := color("31", "✗")
		if st.Connected {
			icon = color("32", "✓")
		}
		fmt.Fprintf(out, "  %s model service %s", icon, st.Provider)
		if len(st.Models) > 0 {
			fmt.Fprintf(out, ": %s", strings.Join(st.Models, ", "))
		}
		if st.Error != "" {
			fmt.Fprintf(out, " %s", color("31", "("+st.Error+")"))
		}
		fmt.Fprintln(out)
		return nil
	},
}
