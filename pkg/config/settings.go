package config

import "time"

// Compile time variables are set by -ldflags.
var (
	LibraryVersion string
	CommitSHA      string
)

type (
	// Settings is the full configuration surface of the coordination layer.
	// Every block has working defaults so a zero-environment process can
	// still talk to a local store.
	Settings struct {
		Store          Store          `json:"store"`
		SecretsStorage SecretsStorage `json:"secrets_storage"`
		Cache          Cache          `json:"cache"`
		RateLimit      RateLimit      `json:"rate_limit"`
		CircuitBreaker CircuitBreaker `json:"circuit_breaker"`
		Lock           Lock           `json:"lock"`
		JobQueue       JobQueue       `json:"job_queue"`
		Metrics        Metrics        `json:"metrics"`
		Logging        Logging        `json:"logging"`
	}

	// Store holds the connection parameters for the shared keyed store.
	Store struct {
		Address      string        `envconfig:"STORE_ADDRESS" default:"localhost:6379" json:"address"`
		Password     string        `envconfig:"STORE_PASSWORD" default:"" json:"password,omitempty"`
		DB           uint          `envconfig:"STORE_DB" default:"0" json:"db"`
		PoolSize     uint          `envconfig:"STORE_POOL_SIZE" default:"10" json:"pool_size"`
		MinIdleConns uint          `envconfig:"STORE_MIN_IDLE_CONNS" default:"3" json:"min_idle_conns"`
		DialTimeout  time.Duration `envconfig:"STORE_DIAL_TIMEOUT" default:"5s" json:"dial_timeout"`
		ReadTimeout  time.Duration `envconfig:"STORE_READ_TIMEOUT" default:"3s" json:"read_timeout"`
		WriteTimeout time.Duration `envconfig:"STORE_WRITE_TIMEOUT" default:"3s" json:"write_timeout"`
		PoolTimeout  time.Duration `envconfig:"STORE_POOL_TIMEOUT" default:"5s" json:"pool_timeout"`
		MaxRetries   uint          `envconfig:"STORE_MAX_RETRIES" default:"3" json:"max_retries"`
	}

	SecretsStorage struct {
		Enabled      bool          `envconfig:"VAULT_ENABLED" default:"false" json:"enabled"`
		Address      string        `envconfig:"VAULT_ADDRESS" default:"http://vault:8200" json:"address"`
		Token        string        `envconfig:"VAULT_TOKEN" default:"" json:"token,omitempty"`
		MountPath    string        `envconfig:"VAULT_MOUNT_PATH" default:"coordination" json:"mount_path"`
		Timeout      time.Duration `envconfig:"VAULT_TIMEOUT" default:"30s" json:"timeout"`
		MaxRetries   uint          `envconfig:"VAULT_MAX_RETRIES" default:"3" json:"max_retries"`
		PollInterval time.Duration `envconfig:"VAULT_POLL_INTERVAL" default:"24h" json:"poll_interval"`
	}

	Cache struct {
		DefaultTTL time.Duration `envconfig:"CACHE_DEFAULT_TTL" default:"1h" json:"default_ttl"`
	}

	RateLimit struct {
		KeyPrefix string `envconfig:"RATE_LIMIT_KEY_PREFIX" default:"ratelimit" json:"key_prefix"`
	}

	CircuitBreaker struct {
		FailureThreshold uint          `envconfig:"CIRCUIT_BREAKER_FAILURE_THRESHOLD" default:"5" json:"failure_threshold"`
		RecoveryTimeout  time.Duration `envconfig:"CIRCUIT_BREAKER_RECOVERY_TIMEOUT" default:"60s" json:"recovery_timeout"`
	}

	Lock struct {
		TTL           time.Duration `envconfig:"LOCK_TTL" default:"30s" json:"ttl"`
		RetryAttempts uint          `envconfig:"LOCK_RETRY_ATTEMPTS" default:"3" json:"retry_attempts"`
		RetryDelay    time.Duration `envconfig:"LOCK_RETRY_DELAY" default:"100ms" json:"retry_delay"`
	}

	JobQueue struct {
		KeyPrefix string `envconfig:"JOB_QUEUE_KEY_PREFIX" default:"jobqueue" json:"key_prefix"`
	}

	Metrics struct {
		SampleSize uint          `envconfig:"METRICS_SAMPLE_SIZE" default:"100" json:"sample_size"`
		SampleTTL  time.Duration `envconfig:"METRICS_SAMPLE_TTL" default:"24h" json:"sample_ttl"`
	}

	Logging struct {
		Level  string `envconfig:"LOG_LEVEL" default:"info" json:"level"`
		Format string `envconfig:"LOG_FORMAT" default:"json" json:"format"`
	}
)
