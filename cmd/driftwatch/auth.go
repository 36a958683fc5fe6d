package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/driftwatch/driftwatch/pkg/client"
)

// authFile holds saved server credentials.
type authFile struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage server credentials",
}

var (
	authServer string
	authToken  string
)

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save server URL and token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if authServer == "" || authToken == "" {
			return fmt.Errorf("--server and --token are required")
		}

		c := client.New(authServer, authToken)
		if err := c.Health(cmd.Context()); err != nil {
			return fmt.Errorf("checking server: %w", err)
		}

		if err := saveAuth(authFile{
			Server: authServer,
			Token:  authToken,
		}); err != nil {
			return err
		}

		fmt.Printf("Logged in to %s\n", authServer)

		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show saved credentials and server reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		auth, err := loadAuth()
		if err != nil {
			return err
		}

		if auth.Server == "" {
			fmt.Println("Not logged in")

			return nil
		}

		fmt.Printf("Server: %s\n", auth.Server)

		c := client.New(auth.Server, auth.Token)
		if err := c.Health(context.Background()); err != nil {
			fmt.Printf("Status: unreachable (%v)\n", err)
		} else {
			fmt.Println("Status: ok")
		}

		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove saved credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := authPath()
		if err != nil {
			return err
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}

		fmt.Println("Logged out")

		return nil
	},
}

func init() {
	authLoginCmd.Flags().StringVar(&authServer, "server", "",
		"server base URL, e.g. https://bench.example.com")
	authLoginCmd.Flags().StringVar(&authToken, "token", "",
		"API token")

	authCmd.AddCommand(authLoginCmd, authStatusCmd, authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}

func authPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}

	return filepath.Join(dir, "driftwatch", "auth.yaml"), nil
}

func saveAuth(auth authFile) error {
	path, err := authPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(auth)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return nil
}

// loadAuth reads saved credentials. Environment variables
// DRIFTWATCH_SERVER and DRIFTWATCH_TOKEN override the file, which
// keeps CI free of credential files.
func loadAuth() (authFile, error) {
	var auth authFile

	path, err := authPath()
	if err == nil {
		if data, readErr := os.ReadFile(path); readErr == nil {
			if err := yaml.Unmarshal(data, &auth); err != nil {
				return auth, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("DRIFTWATCH_SERVER"); v != "" {
		auth.Server = v
	}

	if v := os.Getenv("DRIFTWATCH_TOKEN"); v != "" {
		auth.Token = v
	}

	return auth, nil
}
