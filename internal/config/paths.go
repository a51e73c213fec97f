package config

import (
	"os"
	"path/filepath"
)

// SextantPath returns the root directory for Sextant data.
// It uses $SEXTANT_PATH if set, otherwise defaults to ~/.sextant.
func SextantPath() string {
	if v := os.Getenv("SEXTANT_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".sextant")
	}
	return filepath.Join(home, ".sextant")
}

// ConfigPath returns the path to the Sextant config file.
func ConfigPath() string {
	return filepath.Join(SextantPath(), "config.jsonc")
}

// DotenvPath returns the path to the Sextant .env file.
func DotenvPath() string {
	return filepath.Join(SextantPath(), ".env")
}
