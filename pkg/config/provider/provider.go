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

// Package provider abstracts where configuration comes from. A local
// file is the common case; Consul, etcd, and ZooKeeper back fleet
// deployments that push config changes to every edge node at once.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Type identifies the config source type.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

// sourceTypes maps the accepted spellings, including the empty string
// for the file default and the short "zk" alias.
var sourceTypes = map[string]Type{
	"":          TypeFile,
	"file":      TypeFile,
	"consul":    TypeConsul,
	"etcd":      TypeEtcd,
	"zookeeper": TypeZookeeper,
	"zk":        TypeZookeeper,
}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	if t, ok := sourceTypes[s]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown provider type: %s", s)
}

// Provider is a config source. Load fetches the raw document; Watch
// reports (but does not deliver) changes, leaving the reload to the
// caller so a failed reload keeps the last good config.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Type identifies the source kind for logging.
	Type() Type

	// Load reads the raw config bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the source
	// changes. Cancelling the context stops the watch. A nil channel
	// means the source cannot be watched.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases the source's resources.
	Close() error
}

// ProviderConfig names a config source.
type ProviderConfig struct {
	Type Type

	// Path is the file path, or the key within a remote store.
	Path string

	// Endpoints addresses the remote store. Empty falls back to the
	// store's conventional local address.
	Endpoints []string
}

// ParseSource interprets a config source string. Remote sources use a
// URI form, e.g. "consul://localhost:8500/aide/config" or
// "etcd://host1:2379,host2:2379/aide/config"; anything without a
// scheme is a file path.
func ParseSource(source string) (ProviderConfig, error) {
	scheme, rest, found := strings.Cut(source, "://")
	if !found {
		return ProviderConfig{Type: TypeFile, Path: source}, nil
	}

	t, err := ParseType(scheme)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("config source %q: %w", source, err)
	}
	if t == TypeFile {
		return ProviderConfig{Type: TypeFile, Path: rest}, nil
	}

	hosts, key, _ := strings.Cut(rest, "/")
	if key == "" {
		return ProviderConfig{}, fmt.Errorf("config source %q is missing a key path", source)
	}
	// Consul keys are conventionally bare; etcd keys and znodes are
	// rooted at "/".
	if t != TypeConsul {
		key = "/" + key
	}

	cfg := ProviderConfig{Type: t, Path: key}
	if hosts != "" {
		cfg.Endpoints = strings.Split(hosts, ",")
	}
	return cfg, nil
}

// New creates the Provider a ProviderConfig names.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	endpoints := opts.Endpoints
	if len(endpoints) == 0 {
		endpoints = defaultEndpoints(opts.Type)
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(endpoints, opts.Path)
	case TypeEtcd:
		return NewEtcdProvider(endpoints, opts.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(endpoints, opts.Path)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

func defaultEndpoints(t Type) []string {
	switch t {
	case TypeConsul:
		return []string{"localhost:8500"}
	case TypeEtcd:
		return []string{"localhost:2379"}
	case TypeZookeeper:
		return []string{"localhost:2181"}
	default:
		return nil
	}
}
