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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aidekit/aide/pkg/config"
)

// ValidateCmd checks that a configuration source loads cleanly. Loading
// already applies defaults and validates, so a successful load means a
// valid configuration.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Config source: file path, or consul://, etcd://, zk:// URI." placeholder:"SOURCE"`

	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`

	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := config.LoadConfigSource(ctx, c.Config)
	if loader != nil {
		defer loader.Close()
	}
	if err != nil {
		validationReport{Source: c.Config, Err: err}.write(c.Format, os.Stderr)
		return fmt.Errorf("config load failed")
	}

	if c.PrintConfig {
		return dumpConfig(c.Format, c.Config, cfg)
	}

	validationReport{Source: c.Config}.write(c.Format, os.Stdout)
	return nil
}

// validationReport is the outcome of a validation run, renderable in
// each of the supported output formats.
type validationReport struct {
	Source string
	Err    error
}

type reportProblem struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (r validationReport) write(format string, w io.Writer) {
	switch format {
	case "json":
		r.writeJSON(w)
	case "verbose":
		r.writeVerbose(w)
	default: // compact
		if r.Err != nil {
			fmt.Fprintf(w, "%s: load error: %s\n", r.Source, r.Err)
		} else {
			fmt.Fprintf(w, "%s: valid\n", r.Source)
		}
	}
}

func (r validationReport) writeJSON(w io.Writer) {
	out := struct {
		Valid  bool            `json:"valid"`
		File   string          `json:"file"`
		Errors []reportProblem `json:"errors,omitempty"`
	}{Valid: r.Err == nil, File: r.Source}
	if r.Err != nil {
		out.Errors = []reportProblem{{Type: "load", Message: r.Err.Error()}}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encoding validation result: %v\n", err)
	}
}

func (r validationReport) writeVerbose(w io.Writer) {
	if r.Err != nil {
		writeHeading(w, "Configuration Load Error")
		fmt.Fprintf(w, "File:    %s\n", r.Source)
		fmt.Fprintf(w, "Error:   %s\n", r.Err)
		return
	}
	writeHeading(w, "Configuration Validation Successful")
	fmt.Fprintf(w, "File:   %s\n", r.Source)
	fmt.Fprintf(w, "Status: OK Valid\n")
}

func writeHeading(w io.Writer, title string) {
	fmt.Fprintf(w, "%s\n%s\n\n", title, strings.Repeat("=", len(title)))
}

// dumpConfig prints the configuration as it will actually run, after
// defaults and env resolution. JSON when asked for, YAML otherwise.
func dumpConfig(format, source string, cfg *config.Config) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as JSON: %w", err)
		}
		return nil
	}

	fmt.Printf("# Expanded configuration from: %s\n", source)
	fmt.Printf("# (defaults applied, env vars resolved)\n\n")

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config as YAML: %w", err)
	}
	return enc.Close()
}
