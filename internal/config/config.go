package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultHTTPPort        = "8080"
	defaultTemporalAddress = "localhost:7233"
	defaultTemporalNS      = "default"
	defaultTaskQueue       = "legal-intake-task-queue"
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOpenAITimeout   = 30
	defaultMinioEndpoint   = "localhost:9000"
	defaultMinioBucket     = "documents"
)

const (
	ExtractorRules = "rules"
	ExtractorLLM   = "llm"
	ExtractorChain = "chain"
)

type Config struct {
	HTTPPort           string `mapstructure:"http_port"`
	PostgresDSN        string `mapstructure:"postgres_dsn"`
	TemporalAddress    string `mapstructure:"temporal_address"`
	TemporalNamespace  string `mapstructure:"temporal_namespace"`
	TemporalTaskQueue  string `mapstructure:"temporal_task_queue"`
	OpenAIAPIKey       string `mapstructure:"openai_api_key"`
	OpenAIModel        string `mapstructure:"openai_model"`
	OpenAIBaseURL      string `mapstructure:"openai_base_url"`
	OpenAITimeoutSec   int    `mapstructure:"openai_timeout_sec"`
	OpenAIMaxRetry     int    `mapstructure:"openai_max_retry"`
	MinioEndpoint      string `mapstructure:"minio_endpoint"`
	MinioAccessKey     string `mapstructure:"minio_access_key"`
	MinioSecretKey     string `mapstructure:"minio_secret_key"`
	MinioBucket        string `mapstructure:"minio_bucket"`
	MinioUseSSL        bool   `mapstructure:"minio_use_ssl"`
	WorkflowIDPrefix   string `mapstructure:"workflow_id_prefix"`
	AllowedUploadBytes int64  `mapstructure:"max_upload_bytes"`

	OCRLanguages     string `mapstructure:"ocr_languages"`
	OCRMinTextLength int    `mapstructure:"ocr_min_text_length"`
	OCRPDFWorkers    int    `mapstructure:"ocr_pdf_workers"`

	EntityExtractor               string  `mapstructure:"entity_extractor"`
	MappingAutoAccept             float64 `mapstructure:"mapping_auto_accept"`
	ApprovalAutoApprove           bool    `mapstructure:"approval_auto_approve"`
	ApprovalAutoApproveConfidence float64 `mapstructure:"approval_auto_approve_confidence"`

	OIDCIssuer   string `mapstructure:"oidc_issuer"`
	OIDCClientID string `mapstructure:"oidc_client_id"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Load reads configuration from the environment and, when path is set, from
// a YAML file. Environment variables use the upper-cased key names, for
// example POSTGRES_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", defaultHTTPPort)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("temporal_address", defaultTemporalAddress)
	v.SetDefault("temporal_namespace", defaultTemporalNS)
	v.SetDefault("temporal_task_queue", defaultTaskQueue)
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_model", defaultOpenAIModel)
	v.SetDefault("openai_base_url", "")
	v.SetDefault("openai_timeout_sec", defaultOpenAITimeout)
	v.SetDefault("openai_max_retry", 3)
	v.SetDefault("minio_endpoint", defaultMinioEndpoint)
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", defaultMinioBucket)
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("workflow_id_prefix", "legal-intake")
	v.SetDefault("max_upload_bytes", 20*1024*1024)

	v.SetDefault("ocr_languages", "ara+fra")
	v.SetDefault("ocr_min_text_length", 10)
	v.SetDefault("ocr_pdf_workers", 0)

	v.SetDefault("entity_extractor", ExtractorRules)
	v.SetDefault("mapping_auto_accept", 0.8)
	v.SetDefault("approval_auto_approve", false)
	v.SetDefault("approval_auto_approve_confidence", 0.95)

	v.SetDefault("oidc_issuer", "")
	v.SetDefault("oidc_client_id", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

func (c Config) validate() error {
	if c.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required")
	}
	switch c.EntityExtractor {
	case ExtractorRules:
	case ExtractorLLM, ExtractorChain:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for ENTITY_EXTRACTOR=%s", c.EntityExtractor)
		}
	default:
		return fmt.Errorf("ENTITY_EXTRACTOR must be one of rules, llm, chain: got %q", c.EntityExtractor)
	}
	if c.OIDCIssuer != "" && c.OIDCClientID == "" {
		return errors.New("OIDC_CLIENT_ID is required when OIDC_ISSUER is set")
	}
	return nil
}

// Languages splits OCR_LANGUAGES on "+" or ",".
func (c Config) Languages() []string {
	fields := strings.FieldsFunc(c.OCRLanguages, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}
