package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftwatch/driftwatch/pkg/client"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var (
	projectName        string
	projectDescription string
	projectPublic      bool
)

var projectCreateCmd = &cobra.Command{
	Use:   "create <slug>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient()
		if err != nil {
			return err
		}

		project, err := c.CreateProject(
			cmd.Context(), client.CreateProjectRequest{
				Slug:        args[0],
				Name:        projectName,
				Description: projectDescription,
				Public:      projectPublic,
			},
		)
		if err != nil {
			return fmt.Errorf("creating project: %w", err)
		}

		fmt.Printf("Created project %s (id %d)\n", project.Slug, project.ID)

		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient()
		if err != nil {
			return err
		}

		projects, err := c.ListProjects(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing projects: %w", err)
		}

		for _, p := range projects {
			visibility := "private"
			if p.Public {
				visibility = "public"
			}

			fmt.Printf("%-30s %-8s %s\n", p.Slug, visibility, p.Name)
		}

		return nil
	},
}

var projectViewCmd = &cobra.Command{
	Use:   "view <slug>",
	Short: "Show one project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient()
		if err != nil {
			return err
		}

		project, err := c.GetProject(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("fetching project: %w", err)
		}

		visibility := "private"
		if project.Public {
			visibility = "public"
		}

		fmt.Printf("Slug:        %s\n", project.Slug)
		fmt.Printf("Name:        %s\n", project.Name)
		fmt.Printf("Visibility:  %s\n", visibility)

		if project.Description != "" {
			fmt.Printf("Description: %s\n", project.Description)
		}

		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts <project>",
	Short: "List recent alerts for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := authedClient()
		if err != nil {
			return err
		}

		alerts, err := c.ListAlerts(cmd.Context(), args[0], 50)
		if err != nil {
			return fmt.Errorf("listing alerts: %w", err)
		}

		if len(alerts) == 0 {
			fmt.Println("No alerts")

			return nil
		}

		for _, a := range alerts {
			fmt.Printf("%-12s %+8.2f%%  baseline %.4f -> %.4f  (report %d)\n",
				a.Status, a.PercentChange,
				a.BaselineValue, a.CurrentValue, a.ReportID)
		}

		return nil
	},
}

func authedClient() (*client.Client, error) {
	auth, err := loadAuth()
	if err != nil {
		return nil, err
	}

	if auth.Server == "" {
		return nil, fmt.Errorf(
			"not logged in (run `driftwatch auth login` or set DRIFTWATCH_SERVER)",
		)
	}

	return client.New(auth.Server, auth.Token), nil
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectName, "name", "",
		"display name (default: slug)")
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "",
		"project description")
	projectCreateCmd.Flags().BoolVar(&projectPublic, "public", false,
		"make the project publicly readable")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectViewCmd)
	rootCmd.AddCommand(projectCmd, alertsCmd)
}
