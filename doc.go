// Package aide is a self-hostable AI chat assistant service.
//
// Aide fronts LLM inference, vector search, document ingestion, a calendar
// store and a web crawler behind a single HTTP API. Every expensive backend
// sits behind a traffic-shaping layer: a sliding-window rate limiter with
// penalty windows, a TTL-bounded result cache for vector queries, and
// deterministic prompt cache keys so an upstream gateway can deduplicate
// identical LLM requests.
//
// # Quick Start
//
// Install aide:
//
//	go install github.com/aidekit/aide/cmd/aide@latest
//
// Start a server with zero config:
//
//	aide serve --provider openai --model gpt-4o-mini
//
// Or with a configuration file:
//
//	aide serve --config aide.yaml
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/aidekit/aide/pkg/ratelimit"
//	    "github.com/aidekit/aide/pkg/cache"
//	    "github.com/aidekit/aide/pkg/config"
//	)
//
// # Key Packages
//
// Traffic shaping (the core):
//
//   - pkg/ratelimit: sliding-window limiter with penalty windows
//   - pkg/cache: TTL result cache, canonical serialization, prompt cache keys
//   - pkg/traffic: per-bucket policy facade composing the two
//   - pkg/kv: keyed stores (in-process, SQL per partition, Redis)
//
// Collaborators:
//
//   - pkg/llms: OpenAI, Anthropic and Gemini chat providers
//   - pkg/embedders: embedding providers
//   - pkg/vector: Qdrant, Chromem and Pinecone vector stores
//   - pkg/knowledge: cached semantic search and document seeding
//   - pkg/rooms: durable chat partitions
//   - pkg/calendar: event storage
//   - pkg/crawler: page fetching and extraction
//
// # Architecture
//
//	Client -> HTTP API -> Traffic Shaper -> Collaborator (LLM / vector / crawler / SQL)
//
// Every externally triggerable expensive operation passes a rate-limit
// bucket first; cacheable reads are memoized around the collaborator call.
//
// # Alpha Status
//
// Aide is currently in alpha development. APIs may change, and some
// features are experimental.
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package aide
