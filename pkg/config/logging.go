// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The Aide Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// LoggingConfig configures logging behavior.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-file, --log-format)
//  2. Environment variables (AIDE_LOG_LEVEL, AIDE_LOG_FILE, AIDE_LOG_FORMAT)
//  3. Config file (logging section)
//  4. Defaults (info level, text format, stderr)
//
// Example:
//
//	logging:
//	  level: info
//	  format: text
//	  file: aide.log
//	  rotation:
//	    max_size_mb: 50
//	    max_backups: 5
type LoggingConfig struct {
	// Level specifies the log level (debug, info, warn, error).
	// Default: info
	Level string `yaml:"level,omitempty" json:"level,omitempty" jsonschema:"title=Level,description=Log level,enum=debug,enum=info,enum=warn,enum=error,default=info"`

	// Format specifies the log format: "text" (level + message, colored on a
	// terminal) or "json" (structured, one object per line).
	// Default: text
	Format string `yaml:"format,omitempty" json:"format,omitempty" jsonschema:"title=Format,description=Log output format,enum=text,enum=json,default=text"`

	// File specifies the log file path. If empty, logs go to stderr.
	File string `yaml:"file,omitempty" json:"file,omitempty" jsonschema:"title=File,description=Log file path (stderr when empty)"`

	// Rotation configures size-based rotation of the log file.
	// Only used when File is set.
	Rotation *LogRotationConfig `yaml:"rotation,omitempty" json:"rotation,omitempty" jsonschema:"title=Rotation,description=Size-based log rotation"`
}

// LogRotationConfig configures size-based log file rotation.
type LogRotationConfig struct {
	// MaxSizeMB is the maximum size of the log file before rotation.
	// Default: 100
	MaxSizeMB int `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty" jsonschema:"title=Max Size MB,description=Max log file size in megabytes,default=100"`

	// MaxBackups is how many rotated files to keep.
	// Default: 3
	MaxBackups int `yaml:"max_backups,omitempty" json:"max_backups,omitempty" jsonschema:"title=Max Backups,description=Rotated files to keep,default=3"`

	// MaxAgeDays is how many days to keep rotated files.
	// Default: 28
	MaxAgeDays int `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty" jsonschema:"title=Max Age Days,description=Days to keep rotated files,default=28"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress,omitempty" json:"compress,omitempty" jsonschema:"title=Compress,description=Gzip rotated files"`
}

// SetDefaults applies default values to LoggingConfig.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Rotation != nil {
		c.Rotation.SetDefaults()
	}
}

// SetDefaults applies default values to LogRotationConfig.
func (c *LogRotationConfig) SetDefaults() {
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 100
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 3
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 28
	}
}

// Validate checks the logging configuration.
func (c *LoggingConfig) Validate() error {
	if c.Level != "" {
		validLevels := map[string]bool{
			"debug":   true,
			"info":    true,
			"warn":    true,
			"warning": true,
			"error":   true,
		}
		if !validLevels[c.Level] {
			return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
		}
	}

	if c.Format != "" && c.Format != "text" && c.Format != "json" {
		return fmt.Errorf("invalid log format %q (valid: text, json)", c.Format)
	}

	if c.Rotation != nil && c.File == "" {
		return fmt.Errorf("logging.rotation requires logging.file to be set")
	}

	return nil
}
