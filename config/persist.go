package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/crewline/crewline/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Deletion failure should not block the save
		fmt.Printf("Failed to delete old backup %s: %v\n", back3, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// GetUIConfigPath returns the path to the UI-managed config overlay in
// ~/.crewline/settings_from_ui.toml. Settings changed through the web UI
// land here rather than in the hand-edited config files.
func GetUIConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".crewline", "settings_from_ui.toml")
}

// loadOrInitializeUIConfig loads the UI config file, or creates an empty one if it doesn't exist
func loadOrInitializeUIConfig() (map[string]interface{}, string, error) {
	configPath := GetUIConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	crewlineDir := filepath.Dir(configPath)
	if err := os.MkdirAll(crewlineDir, 0750); err != nil {
		return nil, "", errors.Wrap(err, "failed to create .crewline directory")
	}

	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse UI config")
		}
	} else {
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveUIConfig writes the config to the UI config file with backup
func saveUIConfig(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write UI config")
	}

	return nil
}

// UpdateUISetting sets a single key inside a section of the UI config
// overlay and persists it.
func UpdateUISetting(section, key string, value interface{}) error {
	config, configPath, err := loadOrInitializeUIConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load UI config")
	}

	var sectionMap map[string]interface{}
	if m, ok := config[section].(map[string]interface{}); ok {
		sectionMap = m
	} else {
		sectionMap = make(map[string]interface{})
	}

	sectionMap[key] = value
	config[section] = sectionMap

	return saveUIConfig(config, configPath)
}

// UpdateTickerInterval updates the sweep cadence in the UI config
func UpdateTickerInterval(seconds int) error {
	return UpdateUISetting("rota", "ticker_interval_seconds", seconds)
}

// UpdateOutboxWorkers updates the delivery worker count in the UI config
func UpdateOutboxWorkers(workers int) error {
	return UpdateUISetting("outbox", "workers", workers)
}

// UpdateServerLogTheme updates the log color theme in the UI config
func UpdateServerLogTheme(theme string) error {
	return UpdateUISetting("server", "log_theme", theme)
}
