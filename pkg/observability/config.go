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

package observability

import (
	"fmt"
	"time"
)

// Config holds the tracing and metrics settings. Both default to off;
// an edge deployment opts in per concern.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	// Enabled turns on distributed tracing.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Exporter selects where spans go: "otlp" (default), "jaeger",
	// "zipkin", or "stdout". Jaeger and Zipkin are reached over OTLP;
	// their native protocols are not spoken.
	Exporter string `yaml:"exporter,omitempty" json:"exporter,omitempty"`

	// Endpoint is the collector address, e.g. "localhost:4317" for
	// OTLP over gRPC.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// SamplingRate is the fraction of traces kept, 0.0 to 1.0.
	// Defaults to sampling everything.
	SamplingRate float64 `yaml:"sampling_rate,omitempty" json:"sampling_rate,omitempty"`

	// ServiceName identifies this process in exported spans.
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty"`

	// ServiceVersion is attached to the trace resource when set.
	ServiceVersion string `yaml:"service_version,omitempty" json:"service_version,omitempty"`

	// Insecure skips TLS on the exporter connection. Defaults to true;
	// local collectors rarely terminate TLS themselves.
	Insecure *bool `yaml:"insecure,omitempty" json:"insecure,omitempty"`

	// Headers are sent with every export request (auth tokens etc).
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// CapturePayloads records full LLM prompts and completions on
	// spans. Spans get large and may hold user text; debugging only.
	CapturePayloads bool `yaml:"capture_payloads,omitempty" json:"capture_payloads,omitempty"`

	// DebugExporter keeps recent spans in memory so a deployment
	// without a collector can still inspect its own traffic.
	// Defaults to on whenever tracing is enabled.
	DebugExporter *bool `yaml:"debug_exporter,omitempty" json:"debug_exporter,omitempty"`

	// Timeout bounds each export call. Default 10s.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// MetricsConfig controls the Prometheus registry and scrape endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Endpoint is the scrape path. Default "/metrics".
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Namespace prefixes every metric name. Default "aide".
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// Subsystem sits between namespace and metric name, so
	// subsystem "edge" yields "aide_edge_http_requests_total".
	Subsystem string `yaml:"subsystem,omitempty" json:"subsystem,omitempty"`

	// ConstLabels are stamped onto every metric.
	ConstLabels map[string]string `yaml:"const_labels,omitempty" json:"const_labels,omitempty"`
}

func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

// SetDefaults fills the zero fields of TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}

	// Tri-state booleans: nil means "not set", which defaults on.
	if c.Insecure == nil {
		on := true
		c.Insecure = &on
	}
	if c.DebugExporter == nil && c.Enabled {
		on := true
		c.DebugExporter = &on
	}
}

// Validate rejects settings the tracer would later refuse. A disabled
// config is always valid.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.Exporter {
	case "otlp", "jaeger", "zipkin", "stdout":
	default:
		return fmt.Errorf("invalid exporter %q (valid: otlp, jaeger, zipkin, stdout)", c.Exporter)
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	return nil
}

// IsDebugExporterEnabled resolves the tri-state DebugExporter field;
// unset follows Enabled.
func (c *TracingConfig) IsDebugExporterEnabled() bool {
	if c.DebugExporter == nil {
		return c.Enabled
	}
	return *c.DebugExporter
}

// IsInsecure resolves the tri-state Insecure field; unset means true.
func (c *TracingConfig) IsInsecure() bool {
	return c.Insecure == nil || *c.Insecure
}

// SetDefaults fills the zero fields of MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultServiceName
	}
}

// Validate rejects settings the metrics endpoint cannot serve.
func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when metrics are enabled")
	}
	return nil
}
