package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/murmur/internal/jobs"
	"github.com/dyluth/murmur/internal/printer"
	"github.com/dyluth/murmur/internal/registry"
	"github.com/spf13/cobra"
)

var (
	provisionCount int
	registryPath   string
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage the synthetic identity registry",
	Long: `Manage the synthetic identities replies are attributed to.

The registry is a JSON file (registry.path, default identities.json) holding
one record per account created on the forum.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create synthetic accounts on the forum",
	Long: `Generate synthetic identities from the name banks, create each one on the
forum and add the accounts that were created to the registry.

Handles already in the registry are never reused. The registry is written
once at the end, including when the run is interrupted.

Examples:
  # Preview 5 identities
  murmur identities provision --count=5 --dry-run

  # Create 20 accounts
  murmur identities provision --count=20`,
	Args: cobra.NoArgs,
	RunE: runProvision,
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities in the registry",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesList,
}

func init() {
	identitiesCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "Registry file (default from config)")
	provisionCmd.Flags().IntVarP(&provisionCount, "count", "n", 10, "Number of identities to create")

	identitiesCmd.AddCommand(provisionCmd)
	identitiesCmd.AddCommand(identitiesListCmd)
	rootCmd.AddCommand(identitiesCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if provisionCount < 1 {
		return printer.Error("invalid count", fmt.Sprintf("--count must be at least 1, got %d", provisionCount), nil)
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	path := s.cfg.Registry.Path
	if registryPath != "" {
		path = registryPath
	}

	banks, err := s.cfg.LoadBanks()
	if err != nil {
		return printer.Error("invalid template banks", err.Error(), []string{"Check banks.path in murmur.yml"})
	}
	reg, err := registry.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load identity registry: %w", err)
	}
	client, err := s.forumClient()
	if err != nil {
		return err
	}

	res, err := jobs.ProvisionIdentities(ctx, jobs.Deps{Client: client, Logger: s.logger}, reg, jobs.ProvisionOptions{
		Count:        provisionCount,
		Names:        banks.Identities,
		RegistryPath: path,
		Delay:        s.cfg.Registry.ProvisionDelay,
		DryRun:       dryRun,
	}, s.rng)
	if res != nil {
		written := path
		if dryRun {
			written = ""
		}
		printer.Provision(cmd.OutOrStdout(), res, written)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return printer.Error("provisioning cancelled", "Accounts created before the interrupt were saved to the registry.", nil)
		}
		return fmt.Errorf("provisioning failed: %w", err)
	}
	return nil
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	path := s.cfg.Registry.Path
	if registryPath != "" {
		path = registryPath
	}
	reg, err := registry.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load identity registry: %w", err)
	}

	w := cmd.OutOrStdout()
	if reg.Len() == 0 {
		fmt.Fprintf(w, "No identities in %s\n", path)
		return nil
	}

	fmt.Fprintf(w, "%-20s %-24s %s\n", "HANDLE", "DISPLAY NAME", "EMAIL")
	for _, rec := range reg.Records() {
		fmt.Fprintf(w, "%-20s %-24s %s\n", rec.Handle, rec.DisplayName, rec.Email)
	}
	fmt.Fprintf(w, "\n%d identities\n", reg.Len())
	return nil
}
