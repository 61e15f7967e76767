// Package scaffold writes a starter murmur project: a config file and an
// editable copy of the template banks.
package scaffold

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dyluth/murmur/internal/config"
	"github.com/dyluth/murmur/internal/synth"
)

//go:embed templates/*
var templatesFS embed.FS

// BanksFileName is the banks file written next to the config.
const BanksFileName = "banks.yml"

// FileInfo represents a file to be created during initialization.
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes murmur.yml and banks.yml into dir and checks that both
// load. If force is true, existing files are replaced.
func Initialize(dir string, force bool) error {
	if !force {
		if err := CheckExisting(dir); err != nil {
			return err
		}
	}

	files, err := templateFiles(dir)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return validateCreatedFiles(dir)
}

func templateFiles(dir string) ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/murmur.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read murmur.yml template: %w", err)
	}

	return []FileInfo{
		{Path: filepath.Join(dir, config.DefaultFileName), Content: cfg, Permissions: 0644},
		{Path: filepath.Join(dir, BanksFileName), Content: synth.DefaultBanksYAML(), Permissions: 0644},
	}, nil
}

// validateCreatedFiles loads both files the way a run would.
func validateCreatedFiles(dir string) error {
	cfg, err := config.Load(filepath.Join(dir, config.DefaultFileName))
	if err != nil {
		return fmt.Errorf("created %s does not load: %w", config.DefaultFileName, err)
	}
	if _, err := synth.LoadBanks(filepath.Join(dir, cfg.Banks.Path)); err != nil {
		return fmt.Errorf("created %s does not load: %w", BanksFileName, err)
	}
	return nil
}

// PrintSuccess writes the success message listing the created files.
func PrintSuccess(w io.Writer) {
	fmt.Fprintln(w, "\n✅ Successfully initialized murmur project!")
	fmt.Fprintln(w, "\nCreated:")
	fmt.Fprintf(w, "  ✓ %s\n", config.DefaultFileName)
	fmt.Fprintf(w, "  ✓ %s\n", BanksFileName)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Set forum.base_url and export MURMUR_FORUM_API_KEY")
	fmt.Fprintln(w, "  2. Run 'murmur list' to check the connection")
	fmt.Fprintln(w, "  3. Run 'murmur run <job> --dry-run' before changing anything")
}
