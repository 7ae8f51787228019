// Onyesha — preview sandbox orchestration for generated web projects.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "onyesha",
	Short: "Onyesha — preview sandbox orchestration with log-based error detection.",
	Long: `Onyesha builds and runs disposable preview containers for generated web
projects. It allocates host ports, monitors container health, scans logs for
known build and runtime errors, and reclaims idle sandboxes automatically.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
