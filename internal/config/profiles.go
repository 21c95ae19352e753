package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ProfileInfo describes one configuration file in the config directory.
type ProfileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Format   string    `json:"format"`
	Modified time.Time `json:"modified"`
}

// DefaultConfigDir is where calibd looks for named profiles. It honours
// CALIBD_CONFIG_DIR.
func DefaultConfigDir() string {
	if dir := os.Getenv("CALIBD_CONFIG_DIR"); dir != "" {
		return dir
	}
	return "/etc/calibration-engine"
}

// ListProfiles returns the TOML and YAML files in dir, sorted by name. A
// missing directory yields no profiles.
func ListProfiles(dir string) ([]ProfileInfo, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []ProfileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		var format string
		switch ext {
		case ".toml":
			format = "toml"
		case ".yaml", ".yml":
			format = "yaml"
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ProfileInfo{
			Name:     strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Path:     filepath.Join(dir, e.Name()),
			Format:   format,
			Modified: info.ModTime(),
		})
	}
	slices.SortFunc(out, func(a, b ProfileInfo) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// FindProfile resolves a profile name to its file in dir.
func FindProfile(dir, name string) (string, bool) {
	for _, ext := range []string{".toml", ".yaml", ".yml"} {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
