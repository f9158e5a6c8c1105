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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aidekit/aide/pkg/config/provider"
)

// Loader loads and watches configuration from a Provider.
type Loader struct {
	provider provider.Provider
	onChange func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets a callback invoked with each successfully reloaded
// config.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader with the given provider.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{provider: p}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, expands, decodes, and validates the configuration.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return decodeDocument(data)
}

// Watch blocks, reloading on provider change signals until ctx ends.
// Reload failures are logged and the previous config stays in effect.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}

	if changes == nil {
		slog.Info("Config source does not support watching", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Watching for config changes", "type", l.provider.Type())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			l.reload(ctx)
		}
	}
}

func (l *Loader) reload(ctx context.Context) {
	cfg, err := l.Load(ctx)
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	slog.Info("Configuration reloaded")
	if l.onChange != nil {
		l.onChange(cfg)
	}
}

// Close releases resources held by the loader.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// Provider returns the underlying provider (for hot-reload).
func (l *Loader) Provider() provider.Provider {
	return l.provider
}

// decodeDocument turns raw YAML or JSON bytes into a processed Config:
// env references expanded, defaults applied, document validated.
func decodeDocument(data []byte) (*Config, error) {
	raw, err := unmarshalDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded, _ := ExpandEnvVarsInData(raw).(map[string]any)

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return ProcessConfigPipeline(cfg)
}

// unmarshalDocument parses YAML first (a superset of JSON) and falls
// back to JSON. When both fail the YAML error is reported; that is the
// format nearly every config is written in.
func unmarshalDocument(data []byte) (map[string]any, error) {
	var doc map[string]any

	yamlErr := yaml.Unmarshal(data, &doc)
	if yamlErr == nil {
		return doc, nil
	}
	if jsonErr := json.Unmarshal(data, &doc); jsonErr == nil {
		return doc, nil
	}
	return nil, yamlErr
}

// durationHook converts strings like "45s" into the package's Duration
// type. The stock mapstructure hook only matches time.Duration, which
// is a distinct type.
func durationHook(f reflect.Type, t reflect.Type, data any) (any, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(Duration(0)) {
		return data, nil
	}
	d, err := time.ParseDuration(data.(string))
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", data, err)
	}
	return Duration(d), nil
}

// LoadConfig creates a provider from opts, loads once, and returns the
// loader for callers that want to keep watching.
func LoadConfig(ctx context.Context, opts provider.ProviderConfig) (*Config, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	loader := NewLoader(p)
	cfg, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, err
	}

	return cfg, loader, nil
}

// LoadConfigFile is a convenience function for loading from a file.
func LoadConfigFile(ctx context.Context, path string) (*Config, *Loader, error) {
	return LoadConfig(ctx, provider.ProviderConfig{
		Type: provider.TypeFile,
		Path: path,
	})
}

// LoadConfigSource loads from a source string: a plain file path, or a
// remote URI such as "consul://localhost:8500/aide/config".
func LoadConfigSource(ctx context.Context, source string) (*Config, *Loader, error) {
	opts, err := provider.ParseSource(source)
	if err != nil {
		return nil, nil, err
	}
	return LoadConfig(ctx, opts)
}
