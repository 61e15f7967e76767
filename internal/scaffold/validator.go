package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/murmur/internal/config"
)

// CheckExisting returns an error naming the project files already in dir.
func CheckExisting(dir string) error {
	var existingFiles []string
	for _, name := range []string{config.DefaultFileName, BanksFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			existingFiles = append(existingFiles, name)
		}
	}

	if len(existingFiles) == 0 {
		return nil
	}

	errMsg := "project already initialized\n\nFound existing"
	if len(existingFiles) == 1 {
		errMsg += fmt.Sprintf(": %s\n", existingFiles[0])
	} else {
		errMsg += " files:\n"
		for _, file := range existingFiles {
			errMsg += fmt.Sprintf("  - %s\n", file)
		}
	}
	errMsg += "\nUse 'murmur init --force' to reinitialize (this will overwrite existing configuration)"

	return fmt.Errorf("%s", errMsg)
}
