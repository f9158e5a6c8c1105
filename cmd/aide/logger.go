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

package main

import (
	"fmt"
	"os"

	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/logger"
)

const (
	// logLevelEnvVar overrides the log level when no flag is given.
	logLevelEnvVar = "LOG_LEVEL"
	// logFileEnvVar overrides the log file path when no flag is given.
	logFileEnvVar = "LOG_FILE"
	// logFormatEnvVar overrides the log format when no flag is given.
	logFormatEnvVar = "LOG_FORMAT"

	defaultLogFormat = "simple"
)

// resolveSetting picks the first non-empty value in priority order:
// CLI flag, environment variable, config file, fallback.
func resolveSetting(flagValue, envVar, cfgValue, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if cfgValue != "" {
		return cfgValue
	}
	return fallback
}

// initLoggerFromCLI initializes the logger from CLI flags and
// environment variables, before any configuration is loaded.
// The returned cleanup closes the log file when one was opened.
func initLoggerFromCLI(cliLevel, cliFile, cliFormat string) (func(), error) {
	logLevel := resolveSetting(cliLevel, logLevelEnvVar, "", "info")
	logFile := resolveSetting(cliFile, logFileEnvVar, "", "")
	logFormat := resolveSetting(cliFormat, logFormatEnvVar, "", defaultLogFormat)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	if logFile == "" {
		logger.Init(level, os.Stderr, logFormat)
		return nil, nil
	}

	file, cleanup, err := logger.OpenLogFile(logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.Init(level, file, logFormat)
	return cleanup, nil
}

// applyConfigLogging re-initializes the logger with config file
// settings for anything the CLI flags and environment left unset.
// Returns a nil cleanup when the boot logger is kept as is.
func applyConfigLogging(cli *CLI, cfg *config.LoggingConfig) (func(), error) {
	levelPinned := cli.LogLevel != "" || os.Getenv(logLevelEnvVar) != ""
	filePinned := cli.LogFile != "" || os.Getenv(logFileEnvVar) != ""
	formatPinned := cli.LogFormat != "" || os.Getenv(logFormatEnvVar) != ""

	// The boot logger already runs "info" on stderr with the simple
	// handler; "text" selects that same handler.
	levelChanges := !levelPinned && cfg.Level != "" && cfg.Level != "info"
	fileChanges := !filePinned && cfg.File != ""
	formatChanges := !formatPinned && cfg.Format != "" && cfg.Format != "text" && cfg.Format != defaultLogFormat
	if !levelChanges && !fileChanges && !formatChanges {
		return nil, nil
	}

	logLevel := resolveSetting(cli.LogLevel, logLevelEnvVar, cfg.Level, "info")
	logFile := resolveSetting(cli.LogFile, logFileEnvVar, cfg.File, "")
	logFormat := resolveSetting(cli.LogFormat, logFormatEnvVar, cfg.Format, defaultLogFormat)

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level in config: %w", err)
	}

	if logFile == "" {
		logger.Init(level, os.Stderr, logFormat)
		return nil, nil
	}

	if cfg.Rotation != nil {
		w := logger.NewRotatingWriter(logFile, logger.RotationConfig{
			MaxSizeMB:  cfg.Rotation.MaxSizeMB,
			MaxBackups: cfg.Rotation.MaxBackups,
			MaxAgeDays: cfg.Rotation.MaxAgeDays,
			Compress:   cfg.Rotation.Compress,
		})
		logger.InitWriter(level, w, logFormat, false)
		return func() { _ = w.Close() }, nil
	}

	file, cleanup, err := logger.OpenLogFile(logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.Init(level, file, logFormat)
	return cleanup, nil
}
