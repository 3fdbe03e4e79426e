// Command ragd serves multi-tenant retrieval-augmented chat over HTTP and
// talks to a running server from the command line.
//
// Usage:
//
//	ragd serve                         # start the HTTP server
//	ragd mcp                           # serve MCP tools on stdio
//	ragd ingest acme handbook.pdf      # upload a document
//	ragd ask acme "What is the refund window?"
//	ragd version
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	envFile    string
	serverURL  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragd",
		Short: "Multi-tenant retrieval-augmented chat server",
		Long: `ragd indexes tenant documents and answers questions grounded in them.

Configuration comes from ~/.config/ragd/config.yaml (or --config), RAGD_*
environment variables and an optional .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/ragd/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "ragd server URL for client commands")

	root.AddCommand(newServeCmd(), newMCPCmd(), newIngestCmd(), newAskCmd(), newHealthCmd(), newVersionCmd())
	return root
}

// loadEnvFile loads path when it exists. Variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("ragd by Fyrsmith Labs\n")
			cmd.Printf("Version:    %s\n", version)
			cmd.Printf("Commit:     %s\n", gitCommit)
			cmd.Printf("Build Date: %s\n", buildDate)
		},
	}
}
