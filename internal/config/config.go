package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tab-relay/common"
)

// Config holds all runtime parameters of the orchestrator. Values come from an
// optional YAML file (CONFIG_FILE) and are then overridden by environment variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// Queue timings.
	ExtractionTimeout     time.Duration `yaml:"extraction_timeout"`
	QueueAdvanceDelay     time.Duration `yaml:"queue_advance_delay"`
	ErrorAdvanceExtra     time.Duration `yaml:"error_advance_extra"`
	ErrorAdvanceCap       time.Duration `yaml:"error_advance_cap"`
	BackupContinuation    time.Duration `yaml:"backup_continuation"`
	EmergencyContinuation time.Duration `yaml:"emergency_continuation"`
	FallbackAttempts      int           `yaml:"fallback_attempts"`
	StartDelay            time.Duration `yaml:"start_delay"`
	StallThreshold        time.Duration `yaml:"stall_threshold"`
	StaleJobGrace         time.Duration `yaml:"stale_job_grace"`
	MaxActiveJobs         int           `yaml:"max_active_jobs"`

	// Tab lifecycle.
	TabCreationDelay     time.Duration `yaml:"tab_creation_delay"`
	ErrorBackoffStep     time.Duration `yaml:"error_backoff_step"`
	ErrorBackoffCap      time.Duration `yaml:"error_backoff_cap"`
	LoadPollInitialDelay time.Duration `yaml:"load_poll_initial_delay"`
	LoadPollInterval     time.Duration `yaml:"load_poll_interval"`
	LoadPollMaxChecks    int           `yaml:"load_poll_max_checks"`
	TabCloseDelay        time.Duration `yaml:"tab_close_delay"`
	TabOpenTimeout       time.Duration `yaml:"tab_open_timeout"`

	// Injection.
	DOMReadyWait        time.Duration `yaml:"dom_ready_wait"`
	InjectionAttempts   int           `yaml:"injection_attempts"`
	InjectionRetryDelay time.Duration `yaml:"injection_retry_delay"`
	MessageTimeout      time.Duration `yaml:"message_timeout"`

	// Backend delivery.
	BackendURL        string        `yaml:"backend_url"`
	BackendPath       string        `yaml:"backend_path"`
	BackendRetries    int           `yaml:"backend_retries"`
	BackendRetryStep  time.Duration `yaml:"backend_retry_step"`
	BackendTimeout    time.Duration `yaml:"backend_timeout"`
	BackendUserAgent  string        `yaml:"backend_user_agent"`
	ProfileURLPattern string        `yaml:"profile_url_pattern"`
	CallbackURL       string        `yaml:"callback_url"`

	// Session store.
	StoreBackend   string        `yaml:"store_backend"`
	SessionsKey    string        `yaml:"sessions_key"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPrefix    string        `yaml:"redis_prefix"`
	RedisTTL       time.Duration `yaml:"redis_ttl"`
	SQLitePath     string        `yaml:"sqlite_path"`
	ResetOnStartup bool          `yaml:"reset_on_startup"`

	// Record mirror.
	KafkaBroker       string `yaml:"kafka_broker"`
	KafkaResultsTopic string `yaml:"kafka_results_topic"`
	KafkaDLQTopic     string `yaml:"kafka_dlq_topic"`

	// Browser.
	ChromeBin       string `yaml:"chrome_bin"`
	DebuggerURL     string `yaml:"debugger_url"`
	Headless        bool   `yaml:"headless"`
	AgentScriptPath string `yaml:"agent_script_path"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	cfg := Config{ResetOnStartup: true}
	applyDefaults(&cfg)
	return cfg
}

// Load reads CONFIG_FILE (when set), applies environment overrides, fills defaults and validates.
func Load() (Config, error) {
	cfg := Config{ResetOnStartup: true}
	if path := common.GetEnv("CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ListenAddr = common.GetEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = common.GetEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = common.GetEnv("LOG_FORMAT", cfg.LogFormat)

	cfg.ExtractionTimeout = envDuration("EXTRACTION_TIMEOUT", cfg.ExtractionTimeout)
	cfg.QueueAdvanceDelay = envDuration("QUEUE_ADVANCE_DELAY", cfg.QueueAdvanceDelay)
	cfg.ErrorAdvanceExtra = envDuration("ERROR_ADVANCE_EXTRA", cfg.ErrorAdvanceExtra)
	cfg.ErrorAdvanceCap = envDuration("ERROR_ADVANCE_CAP", cfg.ErrorAdvanceCap)
	cfg.BackupContinuation = envDuration("BACKUP_CONTINUATION", cfg.BackupContinuation)
	cfg.EmergencyContinuation = envDuration("EMERGENCY_CONTINUATION", cfg.EmergencyContinuation)
	cfg.FallbackAttempts = envInt("FALLBACK_ATTEMPTS", cfg.FallbackAttempts)
	cfg.StartDelay = envDuration("START_DELAY", cfg.StartDelay)
	cfg.StallThreshold = envDuration("STALL_THRESHOLD", cfg.StallThreshold)
	cfg.StaleJobGrace = envDuration("STALE_JOB_GRACE", cfg.StaleJobGrace)
	cfg.MaxActiveJobs = envInt("MAX_ACTIVE_JOBS", cfg.MaxActiveJobs)

	cfg.TabCreationDelay = envDuration("TAB_CREATION_DELAY", cfg.TabCreationDelay)
	cfg.ErrorBackoffStep = envDuration("ERROR_BACKOFF_STEP", cfg.ErrorBackoffStep)
	cfg.ErrorBackoffCap = envDuration("ERROR_BACKOFF_CAP", cfg.ErrorBackoffCap)
	cfg.LoadPollInitialDelay = envDuration("LOAD_POLL_INITIAL_DELAY", cfg.LoadPollInitialDelay)
	cfg.LoadPollInterval = envDuration("LOAD_POLL_INTERVAL", cfg.LoadPollInterval)
	cfg.LoadPollMaxChecks = envInt("LOAD_POLL_MAX_CHECKS", cfg.LoadPollMaxChecks)
	cfg.TabCloseDelay = envDuration("TAB_CLOSE_DELAY", cfg.TabCloseDelay)
	cfg.TabOpenTimeout = envDuration("TAB_OPEN_TIMEOUT", cfg.TabOpenTimeout)

	cfg.DOMReadyWait = envDuration("DOM_READY_WAIT", cfg.DOMReadyWait)
	cfg.InjectionAttempts = envInt("INJECTION_ATTEMPTS", cfg.InjectionAttempts)
	cfg.InjectionRetryDelay = envDuration("INJECTION_RETRY_DELAY", cfg.InjectionRetryDelay)
	cfg.MessageTimeout = envDuration("MESSAGE_TIMEOUT", cfg.MessageTimeout)

	cfg.BackendURL = common.GetEnv("BACKEND_URL", cfg.BackendURL)
	cfg.BackendPath = common.GetEnv("BACKEND_PATH", cfg.BackendPath)
	cfg.BackendRetries = envInt("BACKEND_RETRIES", cfg.BackendRetries)
	cfg.BackendRetryStep = envDuration("BACKEND_RETRY_STEP", cfg.BackendRetryStep)
	cfg.BackendTimeout = envDuration("BACKEND_TIMEOUT", cfg.BackendTimeout)
	cfg.BackendUserAgent = common.GetEnv("BACKEND_USER_AGENT", cfg.BackendUserAgent)
	cfg.ProfileURLPattern = common.GetEnv("PROFILE_URL_PATTERN", cfg.ProfileURLPattern)
	cfg.CallbackURL = common.GetEnv("CALLBACK_URL", cfg.CallbackURL)

	cfg.StoreBackend = common.GetEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.SessionsKey = common.GetEnv("SESSIONS_KEY", cfg.SessionsKey)
	cfg.RedisAddr = common.GetEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPrefix = common.GetEnv("REDIS_PREFIX", cfg.RedisPrefix)
	cfg.RedisTTL = envDuration("REDIS_TTL", cfg.RedisTTL)
	cfg.SQLitePath = common.GetEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.ResetOnStartup = common.ParseBool(common.GetEnv("RESET_ON_STARTUP", ""), cfg.ResetOnStartup)

	cfg.KafkaBroker = common.GetEnv("KAFKA_BROKER", cfg.KafkaBroker)
	cfg.KafkaResultsTopic = common.GetEnv("KAFKA_RESULTS_TOPIC", cfg.KafkaResultsTopic)
	cfg.KafkaDLQTopic = common.GetEnv("KAFKA_DLQ_TOPIC", cfg.KafkaDLQTopic)

	cfg.ChromeBin = common.GetEnv("CHROME_BIN", cfg.ChromeBin)
	cfg.DebuggerURL = common.GetEnv("DEBUGGER_URL", cfg.DebuggerURL)
	cfg.Headless = common.ParseBool(common.GetEnv("HEADLESS", ""), cfg.Headless)
	cfg.AgentScriptPath = common.GetEnv("AGENT_SCRIPT", cfg.AgentScriptPath)
}

func envDuration(key string, current time.Duration) time.Duration {
	return common.ParseDuration(common.GetEnv(key, ""), current)
}

func envInt(key string, current int) int {
	return common.ParseInt(common.GetEnv(key, ""), current)
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	setString(&cfg.ListenAddr, ":8080")
	setString(&cfg.LogLevel, "info")
	setString(&cfg.LogFormat, "text")

	setDuration(&cfg.ExtractionTimeout, 45*time.Second)
	setDuration(&cfg.QueueAdvanceDelay, 3*time.Second)
	setDuration(&cfg.ErrorAdvanceExtra, 2*time.Second)
	setDuration(&cfg.ErrorAdvanceCap, 6*time.Second)
	setDuration(&cfg.BackupContinuation, 15*time.Second)
	setDuration(&cfg.EmergencyContinuation, 45*time.Second)
	setInt(&cfg.FallbackAttempts, 5)
	setDuration(&cfg.StartDelay, 2*time.Second)
	setDuration(&cfg.StallThreshold, 5*time.Minute)
	setDuration(&cfg.StaleJobGrace, 30*time.Second)
	setInt(&cfg.MaxActiveJobs, 1)

	setDuration(&cfg.TabCreationDelay, 2*time.Second)
	setDuration(&cfg.ErrorBackoffStep, 1500*time.Millisecond)
	setDuration(&cfg.ErrorBackoffCap, 8*time.Second)
	setDuration(&cfg.LoadPollInitialDelay, 1500*time.Millisecond)
	setDuration(&cfg.LoadPollInterval, time.Second)
	setInt(&cfg.LoadPollMaxChecks, 30)
	setDuration(&cfg.TabCloseDelay, 2*time.Second)
	setDuration(&cfg.TabOpenTimeout, 30*time.Second)

	setDuration(&cfg.DOMReadyWait, 7*time.Second)
	setInt(&cfg.InjectionAttempts, 3)
	setDuration(&cfg.InjectionRetryDelay, 3*time.Second)
	setDuration(&cfg.MessageTimeout, 10*time.Second)

	setString(&cfg.BackendURL, "http://localhost:3000")
	setString(&cfg.BackendPath, "/api/headhunter/process-linkedin-dom")
	setInt(&cfg.BackendRetries, 3)
	setDuration(&cfg.BackendRetryStep, time.Second)
	setDuration(&cfg.BackendTimeout, 30*time.Second)
	setString(&cfg.BackendUserAgent, "tab-relay/1.0")
	setString(&cfg.ProfileURLPattern, "linkedin.com/in/")

	setString(&cfg.StoreBackend, "memory")
	setString(&cfg.SessionsKey, "activeSearches")
	setString(&cfg.RedisAddr, "localhost:6379")
	setString(&cfg.RedisPrefix, "tabrelay:")
	setString(&cfg.SQLitePath, "tab-relay.db")

	setString(&cfg.KafkaResultsTopic, "tabrelay.extraction.results")
	setString(&cfg.KafkaDLQTopic, "tabrelay.extraction.dlq")
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("store_backend must be one of memory, redis, sqlite (got %q)", cfg.StoreBackend)
	}
	if cfg.MaxActiveJobs != 1 {
		return fmt.Errorf("max_active_jobs must be 1")
	}
	if cfg.InjectionAttempts < 1 {
		return fmt.Errorf("injection_attempts must be >= 1")
	}
	if cfg.LoadPollMaxChecks < 1 {
		return fmt.Errorf("load_poll_max_checks must be >= 1")
	}
	if cfg.BackendRetries < 1 {
		return fmt.Errorf("backend_retries must be >= 1")
	}
	if cfg.FallbackAttempts < 1 {
		return fmt.Errorf("fallback_attempts must be >= 1")
	}
	if cfg.ExtractionTimeout <= cfg.DOMReadyWait {
		return fmt.Errorf("extraction_timeout must exceed dom_ready_wait")
	}
	if strings.TrimSpace(cfg.ProfileURLPattern) == "" {
		return fmt.Errorf("profile_url_pattern is required")
	}
	if strings.TrimSpace(cfg.SessionsKey) == "" {
		return fmt.Errorf("sessions_key is required")
	}
	return nil
}

// ErrorAdvanceDelay is the primary continuation delay after a failed URL.
func (c Config) ErrorAdvanceDelay() time.Duration {
	d := c.QueueAdvanceDelay + c.ErrorAdvanceExtra
	if d > c.ErrorAdvanceCap {
		return c.ErrorAdvanceCap
	}
	return d
}

// TabOpenDelay is the wait before opening a tab given the session's consecutive errors.
func (c Config) TabOpenDelay(consecutiveErrors int) time.Duration {
	backoff := time.Duration(consecutiveErrors) * c.ErrorBackoffStep
	if backoff > c.ErrorBackoffCap {
		backoff = c.ErrorBackoffCap
	}
	if backoff < 0 {
		backoff = 0
	}
	return c.TabCreationDelay + backoff
}

func setString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
