package profiles

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kadirbelkuyu/metacache/internal/config"
)

const defaultDir = "configs"

// Profile is a data source configuration file found in the profile
// directory.
type Profile struct {
	Name     string
	Path     string
	Type     string
	Modified time.Time
}

// Manager discovers data source profiles under a directory. Writing
// profiles is left to whoever manages credentials.
type Manager struct {
	dir string
}

func NewManager(dir string) *Manager {
	if strings.TrimSpace(dir) == "" {
		dir = defaultDir
	}
	return &Manager{dir: dir}
}

func (m *Manager) Directory() string {
	return m.dir
}

// List returns the loadable profiles, filtered by normalized database type
// when expectedType is set. Files that fail to load are skipped.
func (m *Manager) List(expectedType string) ([]Profile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var profiles []Profile
	for _, entry := range entries {
		if entry.IsDir() || !hasYAMLExt(entry.Name()) {
			continue
		}
		name := entry.Name()
		path := filepath.Join(m.dir, name)
		cfg, err := config.LoadConfig(path)
		if err != nil {
			continue
		}
		if expectedType != "" && cfg.Database.Type != expectedType {
			continue
		}
		info, err := entry.Info()
		profiles = append(profiles, Profile{
			Name:     strings.TrimSuffix(name, filepath.Ext(name)),
			Path:     path,
			Type:     cfg.Database.Type,
			Modified: modifiedTime(info, err),
		})
	}

	return profiles, nil
}

func modifiedTime(info os.FileInfo, err error) time.Time {
	if err != nil || info == nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Path maps an alias to its file. An alias containing a path separator is
// used as is.
func (m *Manager) Path(alias string) (string, error) {
	if strings.TrimSpace(alias) == "" {
		return "", fmt.Errorf("profile alias cannot be empty")
	}
	if strings.ContainsRune(alias, os.PathSeparator) {
		return alias, nil
	}
	return filepath.Join(m.dir, ensureYAMLExt(alias)), nil
}

// Load reads a profile by alias or file path.
func (m *Manager) Load(alias string) (*config.Config, error) {
	path, err := m.Path(alias)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("profile not found: %s", alias)
	}
	return config.LoadConfig(path)
}

func hasYAMLExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func ensureYAMLExt(name string) string {
	if hasYAMLExt(name) {
		return name
	}
	return name + ".yaml"
}
