package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Server     Server
		Database   Database
		Source     Source
		AI         AI
		Enrichment Enrichment
		Import     Import
		Schedule   Schedule
		Security   Security
		Log        Log
	}

	Server struct {
		Port        string
		CORSOrigins []string
	}

	Database struct {
		URL string
	}

	// Source configures the jGrants registry client.
	Source struct {
		BaseURL        string
		DefaultKeyword string
		UserAgent      string
		Timeout        time.Duration
		MaxAttempts    int
		BaseDelay      time.Duration
		RateLimitRPS   float64
		SearchCacheTTL time.Duration
		DetailCacheTTL time.Duration
	}

	ProviderAccount struct {
		APIKey  string
		Model   string
		BaseURL string
	}

	AI struct {
		Provider     string // openai, anthropic, gemini, ollama
		OpenAI       ProviderAccount
		Anthropic    ProviderAccount
		Gemini       ProviderAccount
		Ollama       ProviderAccount
		Temperature  float64
		MaxTokens    int
		TopP         float64
		Timeout      time.Duration
		RateLimitRPS float64
	}

	Enrichment struct {
		Enabled         bool
		Tasks           []string // Empty means every task
		RetryCount      int
		RetryBaseDelay  time.Duration
		InterTaskDelay  time.Duration
		FallbackEnabled bool
		PromptsFile     string // Optional YAML overriding the embedded templates
	}

	Import struct {
		Keyword           string
		MaxProcessCount   int
		BatchSize         int
		Workers           int
		RecordDelay       time.Duration
		BatchDelay        time.Duration
		MaxRunDuration    time.Duration
		ExcludeZeroAmount bool
		MinAmount         int64
		MaxAmount         int64
		TargetAreas       []string
		UsePurpose        string
		AcceptanceOnly    bool
		LockName          string
	}

	Schedule struct {
		Frequency string // hourly, every_6_hours, every_12_hours, twicedaily, daily, disabled
	}

	Security struct {
		AdminSecret       string
		JWTSecret         string
		AdminPasswordHash string // bcrypt
		TokenTTL          time.Duration
		EncryptionKey     string
	}

	Log struct {
		Level  string
		Format string // text, json
	}
)

const (
	DefaultKeyword     = "補助金"
	MaxProcessCountCap = 50
)

var ErrInvalidConfig = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.cors_origins", []string{"http://localhost:4200"})

	v.SetDefault("database.url", "")

	v.SetDefault("source.base_url", "https://api.jgrants-portal.go.jp/exp/v1/public")
	v.SetDefault("source.default_keyword", DefaultKeyword)
	v.SetDefault("source.user_agent", "grant-importer/1.0")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.max_attempts", 3)
	v.SetDefault("source.base_delay", "1s")
	v.SetDefault("source.rate_limit_rps", 2.0)
	v.SetDefault("source.search_cache_ttl", "1h")
	v.SetDefault("source.detail_cache_ttl", "4h")

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.anthropic.model", "claude-3-sonnet-20240229")
	v.SetDefault("ai.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("ai.gemini.model", "gemini-pro")
	v.SetDefault("ai.gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("ai.ollama.model", "llama3.2:latest")
	v.SetDefault("ai.ollama.base_url", "http://localhost:11434")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 2048)
	v.SetDefault("ai.top_p", 0.9)
	v.SetDefault("ai.timeout", "60s")
	v.SetDefault("ai.rate_limit_rps", 1.0)

	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.tasks", []string{})
	v.SetDefault("enrichment.retry_count", 3)
	v.SetDefault("enrichment.retry_base_delay", "1s")
	v.SetDefault("enrichment.inter_task_delay", "1s")
	v.SetDefault("enrichment.fallback_enabled", true)
	v.SetDefault("enrichment.prompts_file", "")

	v.SetDefault("import.keyword", DefaultKeyword)
	v.SetDefault("import.max_process_count", 10)
	v.SetDefault("import.batch_size", 5)
	v.SetDefault("import.workers", 1)
	v.SetDefault("import.record_delay", "2s")
	v.SetDefault("import.batch_delay", "5s")
	v.SetDefault("import.max_run_duration", "5m")
	v.SetDefault("import.exclude_zero_amount", true)
	v.SetDefault("import.min_amount", 0)
	v.SetDefault("import.max_amount", 0)
	v.SetDefault("import.target_areas", []string{})
	v.SetDefault("import.use_purpose", "")
	v.SetDefault("import.acceptance_only", true)
	v.SetDefault("import.lock_name", "grant_import")

	v.SetDefault("schedule.frequency", "daily")

	v.SetDefault("security.admin_secret", "")
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.admin_password_hash", "")
	v.SetDefault("security.token_ttl", "12h")
	v.SetDefault("security.encryption_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load assembles the configuration from defaults, an optional YAML file and
// GI_* environment variables (GI_IMPORT_BATCH_SIZE overrides import.batch_size).
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept from the previous deployment scripts.
	_ = v.BindEnv("database.url", "GI_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("server.port", "GI_SERVER_PORT", "PORT")
	_ = v.BindEnv("security.admin_secret", "GI_SECURITY_ADMIN_SECRET", "ADMIN_SECRET")
	_ = v.BindEnv("security.jwt_secret", "GI_SECURITY_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("ai.openai.api_key", "GI_AI_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("ai.anthropic.api_key", "GI_AI_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("ai.gemini.api_key", "GI_AI_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("ai.ollama.base_url", "GI_AI_OLLAMA_BASE_URL", "OLLAMA_HOST")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: Server{
			Port:        v.GetString("server.port"),
			CORSOrigins: stringList(v, "server.cors_origins"),
		},
		Database: Database{
			URL: v.GetString("database.url"),
		},
		Source: Source{
			BaseURL:        strings.TrimRight(v.GetString("source.base_url"), "/"),
			DefaultKeyword: v.GetString("source.default_keyword"),
			UserAgent:      v.GetString("source.user_agent"),
			Timeout:        v.GetDuration("source.timeout"),
			MaxAttempts:    v.GetInt("source.max_attempts"),
			BaseDelay:      v.GetDuration("source.base_delay"),
			RateLimitRPS:   v.GetFloat64("source.rate_limit_rps"),
			SearchCacheTTL: v.GetDuration("source.search_cache_ttl"),
			DetailCacheTTL: v.GetDuration("source.detail_cache_ttl"),
		},
		AI: AI{
			Provider:     strings.ToLower(strings.TrimSpace(v.GetString("ai.provider"))),
			OpenAI:       account(v, "ai.openai"),
			Anthropic:    account(v, "ai.anthropic"),
			Gemini:       account(v, "ai.gemini"),
			Ollama:       account(v, "ai.ollama"),
			Temperature:  v.GetFloat64("ai.temperature"),
			MaxTokens:    v.GetInt("ai.max_tokens"),
			TopP:         v.GetFloat64("ai.top_p"),
			Timeout:      v.GetDuration("ai.timeout"),
			RateLimitRPS: v.GetFloat64("ai.rate_limit_rps"),
		},
		Enrichment: Enrichment{
			Enabled:         v.GetBool("enrichment.enabled"),
			Tasks:           stringList(v, "enrichment.tasks"),
			RetryCount:      v.GetInt("enrichment.retry_count"),
			RetryBaseDelay:  v.GetDuration("enrichment.retry_base_delay"),
			InterTaskDelay:  v.GetDuration("enrichment.inter_task_delay"),
			FallbackEnabled: v.GetBool("enrichment.fallback_enabled"),
			PromptsFile:     v.GetString("enrichment.prompts_file"),
		},
		Import: Import{
			Keyword:           v.GetString("import.keyword"),
			MaxProcessCount:   ClampProcessCount(v.GetInt("import.max_process_count")),
			BatchSize:         v.GetInt("import.batch_size"),
			Workers:           v.GetInt("import.workers"),
			RecordDelay:       v.GetDuration("import.record_delay"),
			BatchDelay:        v.GetDuration("import.batch_delay"),
			MaxRunDuration:    v.GetDuration("import.max_run_duration"),
			ExcludeZeroAmount: v.GetBool("import.exclude_zero_amount"),
			MinAmount:         v.GetInt64("import.min_amount"),
			MaxAmount:         v.GetInt64("import.max_amount"),
			TargetAreas:       stringList(v, "import.target_areas"),
			UsePurpose:        v.GetString("import.use_purpose"),
			AcceptanceOnly:    v.GetBool("import.acceptance_only"),
			LockName:          v.GetString("import.lock_name"),
		},
		Schedule: Schedule{
			Frequency: strings.ToLower(strings.TrimSpace(v.GetString("schedule.frequency"))),
		},
		Security: Security{
			AdminSecret:       strings.TrimSpace(v.GetString("security.admin_secret")),
			JWTSecret:         strings.TrimSpace(v.GetString("security.jwt_secret")),
			AdminPasswordHash: strings.TrimSpace(v.GetString("security.admin_password_hash")),
			TokenTTL:          v.GetDuration("security.token_ttl"),
			EncryptionKey:     v.GetString("security.encryption_key"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("%w: source.base_url is empty", ErrInvalidConfig)
	}
	if c.Source.MaxAttempts < 1 {
		return fmt.Errorf("%w: source.max_attempts must be at least 1", ErrInvalidConfig)
	}
	if c.Import.BatchSize < 1 {
		return fmt.Errorf("%w: import.batch_size must be at least 1", ErrInvalidConfig)
	}
	if c.Import.MinAmount < 0 || c.Import.MaxAmount < 0 {
		return fmt.Errorf("%w: import amount bounds must not be negative", ErrInvalidConfig)
	}
	if c.Import.MaxAmount > 0 && c.Import.MinAmount > c.Import.MaxAmount {
		return fmt.Errorf("%w: import.min_amount exceeds import.max_amount", ErrInvalidConfig)
	}
	if c.Import.MaxRunDuration <= 0 {
		return fmt.Errorf("%w: import.max_run_duration must be positive", ErrInvalidConfig)
	}
	return nil
}

// LockTTL is how long the import lock outlives a run budget, so a crashed
// holder frees it shortly after any run could have finished.
func (i Import) LockTTL() time.Duration {
	return i.MaxRunDuration + time.Minute
}

// ClampProcessCount bounds the number of records a single run may process.
func ClampProcessCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxProcessCountCap {
		return MaxProcessCountCap
	}
	return n
}

func account(v *viper.Viper, prefix string) ProviderAccount {
	return ProviderAccount{
		APIKey:  strings.TrimSpace(v.GetString(prefix + ".api_key")),
		Model:   v.GetString(prefix + ".model"),
		BaseURL: strings.TrimRight(v.GetString(prefix+".base_url"), "/"),
	}
}

// stringList accepts both YAML sequences and comma-separated env values.
func stringList(v *viper.Viper, key string) []string {
	var items []string
	switch raw := v.Get(key).(type) {
	case string:
		items = strings.Split(raw, ",")
	default:
		items = v.GetStringSlice(key)
	}

	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
