package commands

import (
	"fmt"

	"github.com/dyluth/murmur/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter murmur.yml and banks.yml",
	Long: `Initialize a murmur project in the current directory.

Creates:
  • murmur.yml - Forum, pacing, filter and job settings
  • banks.yml  - Templates, placeholder values, seed topics and name banks

Use --force to overwrite existing files.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite existing murmur.yml and banks.yml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := scaffold.Initialize(".", forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	scaffold.PrintSuccess(cmd.OutOrStdout())
	return nil
}
