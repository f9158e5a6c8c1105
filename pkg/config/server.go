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
	"fmt"
	"time"
)

// StorageBackend selects where a service keeps its state.
type StorageBackend string

const (
	// StorageBackendMemory keeps state in-process (default).
	StorageBackendMemory StorageBackend = "inmemory"

	// StorageBackendSQL persists state to a named database.
	StorageBackendSQL StorageBackend = "sql"

	// StorageBackendRedis shares state across processes via Redis.
	StorageBackendRedis StorageBackend = "redis"
)

// ServerConfig is the HTTP server block.
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//	  read_timeout: 30s
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Bind address,default=0.0.0.0"`

	// Port is the listen port.
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Listen port,default=8080"`

	// ReadTimeout bounds reading a whole request, including the body.
	ReadTimeout Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty" jsonschema:"title=Read Timeout,description=Max time to read a request,default=30s"`

	// WriteTimeout bounds writing a response. Long-lived streaming
	// responses need headroom here; zero disables the limit.
	WriteTimeout Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty" jsonschema:"title=Write Timeout,description=Max time to write a response (0 for streaming)"`

	// ShutdownTimeout is how long in-flight requests get to finish
	// after a stop signal.
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty" jsonschema:"title=Shutdown Timeout,description=Grace period for in-flight requests,default=15s"`

	// TrustedClientIPHeader names the proxy header carrying the real
	// client address, used for anonymous rate-limit identities.
	TrustedClientIPHeader string `yaml:"trusted_client_ip_header,omitempty" json:"trusted_client_ip_header,omitempty" jsonschema:"title=Trusted Client IP Header,description=Proxy header carrying the client address,default=X-Real-IP"`

	// TLS terminates HTTPS in-process when set.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty" jsonschema:"title=TLS,description=TLS settings"`

	// CORS controls cross-origin access for browser clients.
	CORS *CORSConfig `yaml:"cors,omitempty" json:"cors,omitempty" jsonschema:"title=CORS,description=CORS settings"`

	// Auth holds the JWT authentication block.
	Auth *AuthConfig `yaml:"auth,omitempty" json:"auth,omitempty" jsonschema:"title=Auth,description=JWT authentication"`
}

// TLSConfig points the server at its certificate pair.
type TLSConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	CertFile string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// CORSConfig is handed to the CORS middleware as-is.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins,omitempty" json:"allowed_origins,omitempty"`
	AllowedMethods   []string `yaml:"allowed_methods,omitempty" json:"allowed_methods,omitempty"`
	AllowedHeaders   []string `yaml:"allowed_headers,omitempty" json:"allowed_headers,omitempty"`
	AllowCredentials *bool    `yaml:"allow_credentials,omitempty" json:"allow_credentials,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout.Duration() == 0 {
		c.ReadTimeout = Duration(30 * time.Second)
	}
	if c.ShutdownTimeout.Duration() == 0 {
		c.ShutdownTimeout = Duration(15 * time.Second)
	}
	if c.TrustedClientIPHeader == "" {
		c.TrustedClientIPHeader = "X-Real-IP"
	}

	// Permissive CORS unless the operator narrows it.
	if c.CORS == nil {
		c.CORS = &CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}
	}

	if c.Auth != nil {
		c.Auth.SetDefaults()
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.TLS != nil && BoolValue(c.TLS.Enabled, false) {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls requires cert_file and key_file")
		}
	}

	if c.Auth != nil {
		if err := c.Auth.Validate(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	return nil
}

// Address returns the host:port the server binds.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
