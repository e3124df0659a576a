package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/spf13/cobra"
)

var (
	listTier     string
	listCategory string
	searchLimit  int
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect and toggle skills",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the skill catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		q := url.Values{}
		if listTier != "" {
			q.Set("tier", listTier)
		}
		if listCategory != "" {
			q.Set("category", listCategory)
		}
		path := "/api/skills"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var skills []skill.Descriptor
		if err := newClient(serverURL).do(cmd.Context(), "GET", path, nil, &skills); err != nil {
			return err
		}
		printSkills(cmd.OutOrStdout(), skills)
		return nil
	},
}

var skillsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank skills against a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{"q": {args[0]}}
		if searchLimit > 0 {
			q.Set("limit", strconv.Itoa(searchLimit))
		}
		var skills []skill.Descriptor
		if err := newClient(serverURL).do(cmd.Context(), "GET", "/api/skills/search?"+q.Encode(), nil, &skills); err != nil {
			return err
		}
		if len(skills) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No skills match %q.\n", args[0])
			return nil
		}
		printSkills(cmd.OutOrStdout(), skills)
		return nil
	},
}

var skillsEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd.Context(), cmd.OutOrStdout(), args[0], true)
	},
}

var skillsDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd.Context(), cmd.OutOrStdout(), args[0], false)
	},
}

var skillsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore every skill to its default enablement",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var skills []skill.Descriptor
		if err := newClient(serverURL).do(cmd.Context(), "POST", "/api/skills/reset", nil, &skills); err != nil {
			return err
		}
		printSkills(cmd.OutOrStdout(), skills)
		return nil
	},
}

func init() {
	skillsListCmd.Flags().StringVar(&listTier, "tier", "", "filter by tier (core, enhanced, network, integration)")
	skillsListCmd.Flags().StringVar(&listCategory, "category", "", "filter by category")
	skillsSearchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum results")

	skillsCmd.AddCommand(skillsListCmd, skillsSearchCmd, skillsEnableCmd, skillsDisableCmd, skillsResetCmd)
}

func setEnabled(ctx context.Context, w io.Writer, id string, enabled bool) error {
	var d skill.Descriptor
	path := "/api/skills/" + url.PathEscape(id) + "/enabled"
	if err := newClient(serverURL).do(ctx, "PUT", path, map[string]bool{"enabled": enabled}, &d); err != nil {
		return err
	}
	state := "disabled"
	if d.Enabled {
		state = "enabled"
	}
	fmt.Fprintf(w, "%s is now %s\n", d.ID, state)
	return nil
}

func printSkills(w io.Writer, skills []skill.Descriptor) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTIER\tCATEGORY\tENABLED")
	for _, d := range skills {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", d.ID, d.Name, d.Tier, d.Category, d.Enabled)
	}
	tw.Flush()
}
