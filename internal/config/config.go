package config

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	RedisAddr                  string `mapstructure:"redis_addr"                    validate:"required"`
	RedisPassword              string `mapstructure:"redis_password"`
	RedisDB                    int    `mapstructure:"redis_db"`
	RedisIntervalCB            uint32 `mapstructure:"redis_interval_cb"`
	RedisConsecutiveFailuresCB uint32 `mapstructure:"redis_consecutive_failures_cb"`

	QueueMessageTTL      int `mapstructure:"queue_message_ttl"`
	QueueDedupTTL        int `mapstructure:"queue_dedup_ttl"`
	QueueDequeueMaxSkips int `mapstructure:"queue_dequeue_max_skips"`

	ConversationLockTTL int `mapstructure:"conversation_lock_ttl"`
	IdempotencyTTL      int `mapstructure:"idempotency_ttl"`

	RateLimitMax      int `mapstructure:"rate_limit_max"`
	RateLimitWindow   int `mapstructure:"rate_limit_window"`
	AutomationHaltTTL int `mapstructure:"automation_halt_ttl"`

	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	OpenAIBaseURL   string `mapstructure:"openai_base_url"`
	GroqAPIKey      string `mapstructure:"groq_api_key"`
	GroqBaseURL     string `mapstructure:"groq_base_url"`
	DeepSeekAPIKey  string `mapstructure:"deepseek_api_key"`
	DeepSeekBaseURL string `mapstructure:"deepseek_base_url"`

	LLMDefaultModel          string `mapstructure:"llm_default_model"            validate:"required"`
	LLMFallbackModels        string `mapstructure:"llm_fallback_models"`
	LLMMaxAttempts           int    `mapstructure:"llm_max_attempts"`
	LLMAttemptBackoff        int    `mapstructure:"llm_attempt_backoff"`
	LLMTimeout               int    `mapstructure:"llm_timeout"`
	LLMIntervalCB            uint32 `mapstructure:"llm_interval_cb"`
	LLMConsecutiveFailuresCB uint32 `mapstructure:"llm_consecutive_failures_cb"`

	SMSBaseUrl               string `mapstructure:"sms_base_url"                 validate:"required"`
	SMSAPIKey                string `mapstructure:"sms_api_key"`
	SMSTimeout               int    `mapstructure:"sms_timeout"`
	SMSRetryMaxAttempts      uint   `mapstructure:"sms_retry_max_attempts"`
	SMSRetryBackoffMin       int    `mapstructure:"sms_retry_backoff_min"`
	SMSRetryBackoffMax       int    `mapstructure:"sms_retry_backoff_max"`
	SMSIntervalCB            uint32 `mapstructure:"sms_interval_cb"`
	SMSConsecutiveFailuresCB uint32 `mapstructure:"sms_consecutive_failures_cb"`

	ProfileBaseUrl string `mapstructure:"profile_base_url"             validate:"required"`
	ProfileAPIKey  string `mapstructure:"profile_api_key"`
	ProfileTimeout int    `mapstructure:"profile_timeout"`

	BusinessHoursOpen     int    `mapstructure:"business_hours_open"`
	BusinessHoursClose    int    `mapstructure:"business_hours_close"`
	BusinessHoursTimezone string `mapstructure:"business_hours_timezone"`

	FollowupTTLMargin       int `mapstructure:"followup_ttl_margin"`
	FollowupSequenceSpacing int `mapstructure:"followup_sequence_spacing"`
	SweepInterval           int `mapstructure:"sweep_interval"`
	SweepPoolSize           int `mapstructure:"sweep_pool_size"`

	PoolSize              int `mapstructure:"pool_size"`
	ProcessorMaxAttempts  int `mapstructure:"processor_max_attempts"`
	ProcessorRetryBackoff int `mapstructure:"processor_retry_backoff"`
	ProcessorIdleDelayMs  int `mapstructure:"processor_idle_delay_ms"`

	WebhookPort    string `mapstructure:"webhook_port"`
	WebhookTimeout int    `mapstructure:"webhook_timeout"`

	LogLevel    string `mapstructure:"log_level"`
	LogFilePath string `mapstructure:"log_file_path"`

	HealthCheckerMonitorInterval int `mapstructure:"health_checker_monitor_interval"`

	PrometheusPort    string `mapstructure:"prometheus_port"`
	PrometheusTimeout int    `mapstructure:"prometheus_timeout"`
}

var Conf Config

func init() {
	err := loadEnvConfig(&Conf)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.String("error", err.Error()))
	}
}

func loadEnvConfig(cfg *Config) error {
	viper.AutomaticEnv()
	viper.AllowEmptyEnv(true)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setupDefaults()

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError

		ok := errors.As(err, &configFileNotFoundError)
		if !ok {
			return err
		}
	}

	err = viper.Unmarshal(cfg)
	if err != nil {
		return err
	}

	err = validator.New().Struct(cfg)
	if err != nil {
		return err
	}

	return nil
}

func setupDefaults() {
	confType := reflect.TypeOf(Conf)
	for i := range confType.NumField() {
		field := confType.Field(i)
		viper.SetDefault(field.Tag.Get("mapstructure"), "")
	}

	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", "0")
	viper.SetDefault("REDIS_INTERVAL_CB", "30")
	viper.SetDefault("REDIS_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("QUEUE_MESSAGE_TTL", "86400")
	viper.SetDefault("QUEUE_DEDUP_TTL", "600")
	viper.SetDefault("QUEUE_DEQUEUE_MAX_SKIPS", "5")
	viper.SetDefault("CONVERSATION_LOCK_TTL", "60")
	viper.SetDefault("IDEMPOTENCY_TTL", "3600")
	viper.SetDefault("RATE_LIMIT_MAX", "4")
	viper.SetDefault("RATE_LIMIT_WINDOW", "60")
	viper.SetDefault("AUTOMATION_HALT_TTL", "86400")
	viper.SetDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1")
	viper.SetDefault("DEEPSEEK_BASE_URL", "https://api.deepseek.com")
	viper.SetDefault("LLM_DEFAULT_MODEL", "gpt-4o-mini")
	viper.SetDefault("LLM_FALLBACK_MODELS", "gpt-4o-mini,llama-3.3-70b-versatile,deepseek-chat")
	viper.SetDefault("LLM_MAX_ATTEMPTS", "3")
	viper.SetDefault("LLM_ATTEMPT_BACKOFF", "1")
	viper.SetDefault("LLM_TIMEOUT", "60")
	viper.SetDefault("LLM_INTERVAL_CB", "30")
	viper.SetDefault("LLM_CONSECUTIVE_FAILURES_CB", "5")
	viper.SetDefault("SMS_BASE_URL", "http://localhost:8081")
	viper.SetDefault("SMS_TIMEOUT", "30")
	viper.SetDefault("SMS_RETRY_MAX_ATTEMPTS", "3")
	viper.SetDefault("SMS_RETRY_BACKOFF_MIN", "1")
	viper.SetDefault("SMS_RETRY_BACKOFF_MAX", "10")
	viper.SetDefault("SMS_INTERVAL_CB", "30")
	viper.SetDefault("SMS_CONSECUTIVE_FAILURES_CB", "3")
	viper.SetDefault("PROFILE_BASE_URL", "http://localhost:8082")
	viper.SetDefault("PROFILE_TIMEOUT", "15")
	viper.SetDefault("BUSINESS_HOURS_OPEN", "8")
	viper.SetDefault("BUSINESS_HOURS_CLOSE", "20")
	viper.SetDefault("BUSINESS_HOURS_TIMEZONE", "Europe/London")
	viper.SetDefault("FOLLOWUP_TTL_MARGIN", "3600")
	viper.SetDefault("FOLLOWUP_SEQUENCE_SPACING", "30")
	viper.SetDefault("SWEEP_INTERVAL", "60")
	viper.SetDefault("SWEEP_POOL_SIZE", "3")
	viper.SetDefault("POOL_SIZE", "10")
	viper.SetDefault("PROCESSOR_MAX_ATTEMPTS", "3")
	viper.SetDefault("PROCESSOR_RETRY_BACKOFF", "5")
	viper.SetDefault("PROCESSOR_IDLE_DELAY_MS", "250")
	viper.SetDefault("WEBHOOK_PORT", "8080")
	viper.SetDefault("WEBHOOK_TIMEOUT", "30")
	viper.SetDefault("LOG_LEVEL", "INFO")
	viper.SetDefault("LOG_FILE_PATH", "./access.log")
	viper.SetDefault("HEALTH_CHECKER_MONITOR_INTERVAL", "60")
	viper.SetDefault("PROMETHEUS_PORT", "2112")
	viper.SetDefault("PROMETHEUS_TIMEOUT", "60")
}
