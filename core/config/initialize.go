package config

import (
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/spf13/afero"
)

// Initialize writes the default configuration into dir, creating it if
// needed, and loads it. An existing configuration is left alone.
func Initialize(dir string, logger *log.Logger) (*Configuration, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	logger.Printf("Initializing configuration in %s", dir)
	configFs := afero.NewBasePathFs(afero.NewOsFs(), dir)
	if err := initializeFs(configFs, logger); err != nil {
		return nil, err
	}
	return LoadFs(configFs)
}

func initializeFs(configFs afero.Fs, logger *log.Logger) error {
	_, err := configFs.Stat(ConfigurationName)
	switch {
	case err == nil:
		logger.Printf("- %s already exists, skipping", ConfigurationName)
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	logger.Printf("- writing %s", ConfigurationName)
	return afero.WriteFile(configFs, ConfigurationName, defaultConfigData, 0600)
}
