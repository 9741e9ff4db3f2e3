package logger

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds logging configuration
type Config struct {
	Level          string `yaml:"level"`
	ConsoleEnabled bool   `yaml:"console_enabled"`
	ConsoleFormat  string `yaml:"console_format"`
	FileEnabled    bool   `yaml:"file_enabled"`
	FilePath       string `yaml:"file_path"`
	FileFormat     string `yaml:"file_format"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
	FileCompress   bool   `yaml:"file_compress"`
}

// loggingFile is the on-disk layout: everything lives under a top-level
// "logging" key so the section can share a file with other settings.
type loggingFile struct {
	Logging *rawConfig `yaml:"logging"`
}

// rawConfig uses pointers for booleans so an omitted key keeps its default.
type rawConfig struct {
	Level          string `yaml:"level"`
	ConsoleEnabled *bool  `yaml:"console_enabled"`
	ConsoleFormat  string `yaml:"console_format"`
	FileEnabled    *bool  `yaml:"file_enabled"`
	FilePath       string `yaml:"file_path"`
	FileFormat     string `yaml:"file_format"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
	FileCompress   *bool  `yaml:"file_compress"`
}

// DefaultConfig returns the logging configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Level:          "INFO",
		ConsoleEnabled: true,
		ConsoleFormat:  "text",
		FileEnabled:    false,
		FilePath:       "logs/termux-bridge.log",
		FileFormat:     "text",
		FileMaxSizeMB:  10,
		FileMaxBackups: 5,
		FileMaxAgeDays: 30,
	}
}

// LoadConfig loads logging configuration from a YAML file and applies
// environment variable overrides. A missing file is not an error; a file
// that exists but cannot be parsed is.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			var file loggingFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return DefaultConfig(), fmt.Errorf("failed to parse logging config %s: %w", configPath, err)
			}
			if file.Logging != nil {
				file.Logging.mergeInto(&config)
			}
		case !os.IsNotExist(err):
			return config, fmt.Errorf("failed to read logging config %s: %w", configPath, err)
		}
	}

	applyEnv(&config)
	return config, nil
}

func (r *rawConfig) mergeInto(config *Config) {
	if r.Level != "" {
		config.Level = r.Level
	}
	if r.ConsoleEnabled != nil {
		config.ConsoleEnabled = *r.ConsoleEnabled
	}
	if r.ConsoleFormat != "" {
		config.ConsoleFormat = r.ConsoleFormat
	}
	if r.FileEnabled != nil {
		config.FileEnabled = *r.FileEnabled
	}
	if r.FilePath != "" {
		config.FilePath = r.FilePath
	}
	if r.FileFormat != "" {
		config.FileFormat = r.FileFormat
	}
	if r.FileMaxSizeMB > 0 {
		config.FileMaxSizeMB = r.FileMaxSizeMB
	}
	if r.FileMaxBackups > 0 {
		config.FileMaxBackups = r.FileMaxBackups
	}
	if r.FileMaxAgeDays > 0 {
		config.FileMaxAgeDays = r.FileMaxAgeDays
	}
	if r.FileCompress != nil {
		config.FileCompress = *r.FileCompress
	}
}

func applyEnv(config *Config) {
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Level = logLevel
	}

	if consoleFormat := os.Getenv("LOG_CONSOLE_FORMAT"); consoleFormat != "" {
		config.ConsoleFormat = consoleFormat
	}

	if fileEnabled := os.Getenv("LOG_FILE_ENABLED"); fileEnabled != "" {
		if enabled, err := strconv.ParseBool(fileEnabled); err == nil {
			config.FileEnabled = enabled
		}
	}

	if filePath := os.Getenv("LOG_FILE_PATH"); filePath != "" {
		config.FilePath = filePath
	}
}
