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
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/aidekit/aide/pkg/config"
)

// SchemaCmd generates the JSON Schema for aide configuration files.
// Output goes to stdout so it can be redirected or piped.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run(cli *CLI) error {
	// Definitions are inlined and extra properties rejected so the
	// schema works standalone in editors and form builders.
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.ID = "https://aidekit.dev/schemas/config.json"
	schema.Title = "Aide Configuration Schema"
	schema.Description = "Complete configuration schema for the aide chat service"
	schema.Examples = []any{exampleConfig()}

	enc := json.NewEncoder(os.Stdout)
	if !c.Compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}
	return nil
}

// exampleConfig is the sample embedded in the schema: one Anthropic
// model, a support persona, and a per-room chat budget.
func exampleConfig() map[string]any {
	return map[string]any{
		"name": "support-assistant",
		"llms": map[string]any{
			"main": map[string]any{
				"provider": "anthropic",
				"model":    "claude-sonnet-4-20250514",
				"api_key":  "${ANTHROPIC_API_KEY}",
			},
		},
		"chat": map[string]any{
			"llm":           "main",
			"system_prompt": "You are a helpful support assistant.",
		},
		"traffic": map[string]any{
			"buckets": map[string]any{
				"chat": map[string]any{
					"window": "60s",
					"limit":  20,
				},
			},
		},
	}
}
