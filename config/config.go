package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the coaching engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Selection SelectionConfig `mapstructure:"selection"`
	Session   SessionConfig   `mapstructure:"session"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	AuthEnabled bool   `mapstructure:"auth_enabled"`
}

// LLMConfig contains LLM provider configuration and per-task routing
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	EmbeddingModel string              `mapstructure:"embedding_model"`
	EmbeddingDim   int                 `mapstructure:"embedding_dimensions"`
	Timeout        time.Duration       `mapstructure:"timeout"`
	Routing        LLMRoutingConfig    `mapstructure:"routing"`
	Models         map[string]LLMModel `mapstructure:"models"`
}

// LLMModel represents a single model's generation and cost parameters
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig decides which model serves each LLM task
type LLMRoutingConfig struct {
	Routing  string `mapstructure:"routing"`  // conversation intake classification
	Subquery string `mapstructure:"subquery"` // sub-query planning
	Rerank   string `mapstructure:"rerank"`   // evidence reranking
	Plan     string `mapstructure:"plan"`     // coach plan generation
	Fallback string `mapstructure:"fallback"`
}

// Model resolves the model name routed to a task, falling back when unset
func (r LLMRoutingConfig) Model(task string) string {
	var name string
	switch task {
	case "routing":
		name = r.Routing
	case "subquery":
		name = r.Subquery
	case "rerank":
		name = r.Rerank
	case "plan":
		name = r.Plan
	}
	if name == "" {
		return r.Fallback
	}
	return name
}

// RetrievalConfig carries repository names, per-repository search depth and
// the heuristic match bonuses layered on top of raw similarity
type RetrievalConfig struct {
	PolicyCollection string `mapstructure:"policy_collection"`
	ThesisCollection string `mapstructure:"thesis_collection"`

	PolicyFetchLimit int `mapstructure:"policy_fetch_limit"`
	ThesisFetchLimit int `mapstructure:"thesis_fetch_limit"`
	PolicyTopK       int `mapstructure:"policy_top_k"`
	ThesisTopK       int `mapstructure:"thesis_top_k"`

	MaxSubqueries   int  `mapstructure:"max_subqueries"`
	RerouteEachTurn bool `mapstructure:"reroute_each_turn"`

	// SeedFile points at a JSONL corpus dump served from the in-memory
	// index when Postgres is not configured.
	SeedFile string `mapstructure:"seed_file"`

	// ImageBaseURL rewrites relative image links in stored excerpts.
	ImageBaseURL string `mapstructure:"image_base_url"`

	Bonuses BonusConfig `mapstructure:"bonuses"`
}

// BonusConfig holds the deterministic score bonuses applied by the
// repository adapters when candidate metadata matches the routed state
type BonusConfig struct {
	PolicyStageItem float64 `mapstructure:"policy_stage_item"`
	PolicyStageDoc  float64 `mapstructure:"policy_stage_doc"`
	PolicyModeItem  float64 `mapstructure:"policy_mode_item"`
	PolicyModeDoc   float64 `mapstructure:"policy_mode_doc"`
	PolicyGap       float64 `mapstructure:"policy_gap"`
	ThesisStage     float64 `mapstructure:"thesis_stage"`
	ThesisMode      float64 `mapstructure:"thesis_mode"`
	ThesisModeClass float64 `mapstructure:"thesis_mode_class"`
	ThesisGap       float64 `mapstructure:"thesis_gap"`
	ThesisRole      float64 `mapstructure:"thesis_role"`
}

// SelectionConfig controls the quota-constrained diversity selection
type SelectionConfig struct {
	TotalK          int     `mapstructure:"total_k"`
	MinPolicy       int     `mapstructure:"min_policy"`
	MinThesis       int     `mapstructure:"min_thesis"`
	DiversityLambda float64 `mapstructure:"diversity_lambda"`
	SimilarityGate  float64 `mapstructure:"similarity_gate"`
}

// SessionConfig controls session lifetime and the clarification loop
type SessionConfig struct {
	Store        string        `mapstructure:"store"` // inmemory | redis
	TTL          time.Duration `mapstructure:"ttl"`
	MaxFollowups int           `mapstructure:"max_followups"`
	CleanupCron  string        `mapstructure:"cleanup_cron"`
}

// StorageConfig contains storage configurations
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string from the discrete fields unless an
// explicit URL is configured
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the redis client
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// TelemetryConfig contains telemetry and cost-tracking settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	CostTracking bool   `mapstructure:"cost_tracking"`
	LogFile      string `mapstructure:"log_file"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.EmbeddingModel) == "" {
		return fmt.Errorf("llm.embedding_model required")
	}
	if l.EmbeddingDim <= 0 {
		return fmt.Errorf("llm.embedding_dimensions must be positive")
	}
	if strings.TrimSpace(l.Routing.Fallback) == "" {
		return fmt.Errorf("llm.routing.fallback required")
	}
	return nil
}

func (r RetrievalConfig) Validate() error {
	if strings.TrimSpace(r.PolicyCollection) == "" {
		return fmt.Errorf("retrieval.policy_collection required")
	}
	if strings.TrimSpace(r.ThesisCollection) == "" {
		return fmt.Errorf("retrieval.thesis_collection required")
	}
	if r.MaxSubqueries < 3 {
		return fmt.Errorf("retrieval.max_subqueries must be at least 3")
	}
	return nil
}

func (s SelectionConfig) Validate() error {
	if s.TotalK <= 0 {
		return fmt.Errorf("selection.total_k must be positive")
	}
	if s.MinPolicy+s.MinThesis > s.TotalK {
		return fmt.Errorf("selection quotas exceed total_k (%d+%d > %d)", s.MinPolicy, s.MinThesis, s.TotalK)
	}
	return nil
}

func (s SessionConfig) Validate() error {
	if s.MaxFollowups < 0 {
		return fmt.Errorf("session.max_followups cannot be negative")
	}
	switch s.Store {
	case "", "inmemory", "redis":
	default:
		return fmt.Errorf("session.store must be inmemory or redis, got %q", s.Store)
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "60s")
	viper.SetDefault("server.address", ":10021")
	viper.SetDefault("server.auth_enabled", true)

	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-large")
	viper.SetDefault("llm.embedding_dimensions", 3072)
	viper.SetDefault("llm.timeout", "90s")
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	viper.SetDefault("retrieval.policy_collection", "policy_docs")
	viper.SetDefault("retrieval.thesis_collection", "thesis_segments")
	viper.SetDefault("retrieval.policy_fetch_limit", 60)
	viper.SetDefault("retrieval.thesis_fetch_limit", 80)
	viper.SetDefault("retrieval.policy_top_k", 10)
	viper.SetDefault("retrieval.thesis_top_k", 12)
	viper.SetDefault("retrieval.max_subqueries", 6)
	viper.SetDefault("retrieval.reroute_each_turn", false)

	viper.SetDefault("retrieval.bonuses.policy_stage_item", 0.10)
	viper.SetDefault("retrieval.bonuses.policy_stage_doc", 0.05)
	viper.SetDefault("retrieval.bonuses.policy_mode_item", 0.10)
	viper.SetDefault("retrieval.bonuses.policy_mode_doc", 0.05)
	viper.SetDefault("retrieval.bonuses.policy_gap", 0.05)
	viper.SetDefault("retrieval.bonuses.thesis_stage", 0.08)
	viper.SetDefault("retrieval.bonuses.thesis_mode", 0.08)
	viper.SetDefault("retrieval.bonuses.thesis_mode_class", 0.12)
	viper.SetDefault("retrieval.bonuses.thesis_gap", 0.10)
	viper.SetDefault("retrieval.bonuses.thesis_role", 0.02)

	viper.SetDefault("selection.total_k", 12)
	viper.SetDefault("selection.min_policy", 2)
	viper.SetDefault("selection.min_thesis", 3)
	viper.SetDefault("selection.diversity_lambda", 0.4)
	viper.SetDefault("selection.similarity_gate", 0.85)

	viper.SetDefault("session.store", "inmemory")
	viper.SetDefault("session.ttl", "2h")
	viper.SetDefault("session.max_followups", 5)
	viper.SetDefault("session.cleanup_cron", "0 * * * *")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
}

// LoadConfig loads config from file and environment (COACH_*)
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config") // path to look for the config file in
		viper.AddConfigPath(".")        // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                      // bin/
		viper.AddConfigPath(filepath.Join(exeDir, "..")) // repo root
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("COACH")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (COACH_*)

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine when searching default paths:
		// defaults plus environment overrides cover a dev setup.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	if err := config.Selection.Validate(); err != nil {
		panic(err)
	}
	if err := config.Session.Validate(); err != nil {
		panic(err)
	}
	return &config
}
