package config

import (
	"fmt"
	"reflect"

	"github.com/aidekit/aide/pkg/observability"
)

// DefaultLLMName is the registry key used when no LLM name is given.
const DefaultLLMName = "main"

// Config is the root configuration document.
type Config struct {
	Version     string `yaml:"version,omitempty" json:"version,omitempty"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Server  ServerConfig  `yaml:"server,omitempty" json:"server,omitempty"`

	LLMs      map[string]*LLMConfig      `yaml:"llms,omitempty" json:"llms,omitempty"`
	Embedder  *EmbedderConfig            `yaml:"embedder,omitempty" json:"embedder,omitempty"`
	Vector    *VectorConfig              `yaml:"vector,omitempty" json:"vector,omitempty"`
	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty" json:"databases,omitempty"`

	Traffic   TrafficConfig   `yaml:"traffic,omitempty" json:"traffic,omitempty"`
	Rooms     RoomsConfig     `yaml:"rooms,omitempty" json:"rooms,omitempty"`
	Chat      ChatConfig      `yaml:"chat,omitempty" json:"chat,omitempty"`
	Calendar  CalendarConfig  `yaml:"calendar,omitempty" json:"calendar,omitempty"`
	Knowledge KnowledgeConfig `yaml:"knowledge,omitempty" json:"knowledge,omitempty"`
	Crawler   CrawlerConfig   `yaml:"crawler,omitempty" json:"crawler,omitempty"`

	Observability *observability.Config `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// ProcessConfigPipeline normalizes, defaults and validates a config in
// one pass. Loaders call this after decoding.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.initializeMaps()

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) initializeMaps() {
	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMConfig)
	}
	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}
}

// SetDefaults applies default values across the whole document.
func (c *Config) SetDefaults() {
	c.initializeMaps()

	c.Logging.SetDefaults()
	c.Server.SetDefaults()

	if len(c.LLMs) == 0 {
		c.LLMs[DefaultLLMName] = &LLMConfig{}
	}
	for name := range c.LLMs {
		if c.LLMs[name] != nil {
			c.LLMs[name].SetDefaults()
		}
	}

	if c.Embedder != nil {
		c.Embedder.SetDefaults()
	}
	if c.Vector != nil {
		c.Vector.SetDefaults()
	}

	for name := range c.Databases {
		if c.Databases[name] != nil {
			c.Databases[name].SetDefaults()
		}
	}

	c.Traffic.SetDefaults()
	c.Rooms.SetDefaults()
	c.Chat.SetDefaults()
	c.Calendar.SetDefaults()
	c.Knowledge.SetDefaults()
	c.Crawler.SetDefaults()

	// The single-LLM case needs no explicit reference from chat.
	if c.Chat.LLM == "" {
		if _, ok := c.LLMs[DefaultLLMName]; ok {
			c.Chat.LLM = DefaultLLMName
		} else if len(c.LLMs) == 1 {
			for name := range c.LLMs {
				c.Chat.LLM = name
			}
		}
	}

	if c.Observability != nil {
		c.Observability.SetDefaults()
	}
}

// Validate checks the whole document, sections first, references last.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	for name, llm := range c.LLMs {
		if llm != nil {
			if err := llm.Validate(); err != nil {
				return fmt.Errorf("llm %q: %w", name, err)
			}
		}
	}

	if c.Embedder != nil {
		if err := c.Embedder.Validate(); err != nil {
			return fmt.Errorf("embedder: %w", err)
		}
	}
	if c.Vector != nil {
		if err := c.Vector.Validate(); err != nil {
			return fmt.Errorf("vector: %w", err)
		}
	}

	for name, db := range c.Databases {
		if db != nil {
			if err := db.Validate(); err != nil {
				return fmt.Errorf("database %q: %w", name, err)
			}
		}
	}

	if err := c.Traffic.Validate(); err != nil {
		return fmt.Errorf("traffic: %w", err)
	}
	if err := c.Rooms.Validate(); err != nil {
		return fmt.Errorf("rooms: %w", err)
	}
	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := c.Calendar.Validate(); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	if err := c.Knowledge.Validate(); err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	if err := c.Crawler.Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}

	if c.Observability != nil {
		if err := c.Observability.Validate(); err != nil {
			return fmt.Errorf("observability: %w", err)
		}
	}

	if err := c.validateReferences(); err != nil {
		return fmt.Errorf("reference validation failed: %w", err)
	}

	return nil
}

// validateReferences checks that every named reference points at a
// section that exists.
func (c *Config) validateReferences() error {
	if c.Chat.LLM != "" {
		if _, exists := c.LLMs[c.Chat.LLM]; !exists {
			return fmt.Errorf("chat: llm %q not found (available: %v)",
				c.Chat.LLM, mapKeys(c.LLMs))
		}
	}

	if c.Rooms.Backend == StorageBackendSQL {
		if _, exists := c.Databases[c.Rooms.Database]; !exists {
			return fmt.Errorf("rooms: database %q not found (available: %v)",
				c.Rooms.Database, mapKeys(c.Databases))
		}
	}

	if c.Traffic.Store.Backend == StorageBackendSQL {
		if _, exists := c.Databases[c.Traffic.Store.Database]; !exists {
			return fmt.Errorf("traffic: database %q not found (available: %v)",
				c.Traffic.Store.Database, mapKeys(c.Databases))
		}
	}

	if BoolValue(c.Calendar.Enabled, false) {
		if _, exists := c.Databases[c.Calendar.Database]; !exists {
			return fmt.Errorf("calendar: database %q not found (available: %v)",
				c.Calendar.Database, mapKeys(c.Databases))
		}
	}

	// Knowledge lookups need both halves of the retrieval pipeline.
	if len(c.Chat.KnowledgeIndexes) > 0 {
		if c.Embedder == nil {
			return fmt.Errorf("chat: knowledge_indexes requires an embedder section")
		}
		if c.Vector == nil {
			return fmt.Errorf("chat: knowledge_indexes requires a vector section")
		}
	}

	return nil
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// GetLLM returns the named LLM config.
func (c *Config) GetLLM(name string) (*LLMConfig, bool) {
	llm, exists := c.LLMs[name]
	return llm, exists
}

// ListLLMs returns the configured LLM names.
func (c *Config) ListLLMs() []string {
	return mapKeys(c.LLMs)
}

// GetDatabase returns the named database config.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, exists := c.Databases[name]
	return db, exists
}

// CreateZeroConfig builds a minimal runnable config from CLI flags.
// The source is inspected by field name so the CLI types stay out of
// this package.
func CreateZeroConfig(source any) *Config {
	provider := extractStringField(source, "Provider")
	apiKey := extractStringField(source, "APIKey")
	baseURL := extractStringField(source, "BaseURL")
	model := extractStringField(source, "Model")
	port := extractIntField(source, "Port")
	observe := extractBoolField(source, "Observe")

	if apiKey == "" {
		if provider != "" {
			apiKey = providerAPIKeyFromEnv(LLMProvider(provider))
		} else {
			for _, candidate := range []LLMProvider{LLMProviderAnthropic, LLMProviderOpenAI, LLMProviderGemini} {
				if key := providerAPIKeyFromEnv(candidate); key != "" {
					apiKey = key
					provider = string(candidate)
					break
				}
			}
		}
	}

	if provider == "" {
		provider = string(detectProviderFromEnv())
	}

	llmConfig := &LLMConfig{
		Provider: LLMProvider(provider),
	}
	if apiKey != "" {
		llmConfig.APIKey = apiKey
	}
	if baseURL != "" {
		llmConfig.BaseURL = baseURL
	}
	if model != "" {
		llmConfig.Model = model
	}

	cfg := &Config{
		Name: "Zero Config Mode",
		LLMs: map[string]*LLMConfig{
			DefaultLLMName: llmConfig,
		},
		Databases: make(map[string]*DatabaseConfig),
	}

	if port != 0 {
		cfg.Server.Port = port
	}

	if observe {
		cfg.Observability = &observability.Config{
			Metrics: observability.MetricsConfig{Enabled: true},
		}
	}

	return cfg
}

func extractStringField(source any, fieldName string) string {
	v := reflect.ValueOf(source)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	field := v.FieldByName(fieldName)
	if !field.IsValid() || !field.CanInterface() {
		return ""
	}

	if field.Kind() != reflect.String {
		return ""
	}

	return field.String()
}

func extractBoolField(source any, fieldName string) bool {
	v := reflect.ValueOf(source)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	field := v.FieldByName(fieldName)
	if !field.IsValid() || !field.CanInterface() {
		return false
	}

	if field.Kind() != reflect.Bool {
		return false
	}

	return field.Bool()
}

func extractIntField(source any, fieldName string) int {
	v := reflect.ValueOf(source)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	field := v.FieldByName(fieldName)
	if !field.IsValid() || !field.CanInterface() {
		return 0
	}

	if field.Kind() != reflect.Int {
		return 0
	}

	return int(field.Int())
}
