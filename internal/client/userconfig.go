/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const installationKey = "installation_id"

// UserConfig is the small file the client keeps between runs.
type UserConfig struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// DefaultUserConfigPath is cantina/client.toml under the user's config
// directory.
func DefaultUserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}

	return filepath.Join(dir, "cantina", "client.toml")
}

// LoadUserConfig reads path if it exists. A missing file is an empty config.
func LoadUserConfig(path string) (*UserConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	return &UserConfig{v: v, path: path}, nil
}

// InstallationID returns the stored id, or nil if there is none.
func (c *UserConfig) InstallationID() *uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := uuid.Parse(c.v.GetString(installationKey))
	if err != nil || id == uuid.Nil {
		return nil
	}

	return &id
}

// SetInstallationID stores id and writes the file.
func (c *UserConfig) SetInstallationID(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.v.Set(installationKey, id.String())

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := c.v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("writing %s: %w", c.path, err)
	}

	return nil
}
