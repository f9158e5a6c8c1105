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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key and watches it with
// blocking queries.
type ConsulProvider struct {
	client *api.Client
	key    string
}

// NewConsulProvider creates a provider backed by the Consul KV store.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	cfg := api.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		client: client,
		key:    key,
	}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the config key.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	pair, _, err := p.client.KV().Get(p.key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch blocks on the key's modify index and signals on change.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go p.watchLoop(ctx, ch)

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	var lastIndex uint64
	for {
		if ctx.Err() != nil {
			return
		}

		opts := (&api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		}).WithContext(ctx)

		_, meta, err := p.client.KV().Get(p.key, opts)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("Consul watch error", "key", p.key, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		// Index went backwards: the raft log was reset, start over.
		if meta.LastIndex < lastIndex {
			lastIndex = 0
			continue
		}

		if meta.LastIndex != lastIndex {
			first := lastIndex == 0
			lastIndex = meta.LastIndex
			if !first {
				select {
				case ch <- struct{}{}:
				default:
					// Change already pending
				}
			}
		}
	}
}

// Close releases resources. The Consul client holds no connections.
func (p *ConsulProvider) Close() error {
	return nil
}

// Ensure ConsulProvider implements Provider
var _ Provider = (*ConsulProvider)(nil)
