package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/example/sendinblue-relay/internal/util"
)

// Transport names accepted by EMAIL_TRANSPORT.
const (
	TransportHTTP = "http"
	TransportMock = "mock"

	DefaultSendinblueAPIURL = "https://api.sendinblue.com/v3/"
)

// Config captures all runtime configuration for the email relay.
type Config struct {
	App           AppConfig
	Kafka         KafkaConfig
	Topics        TopicPair
	ConsumerGroup string
	Worker        WorkerConfig
	Validation    ValidationConfig
	Sendinblue    SendinblueConfig
	Timeouts      TimeoutConfig
	Health        HealthConfig
	Dedup         DedupConfig
	AMQP          AMQPConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// KafkaConfig defines broker information.
type KafkaConfig struct {
	Brokers []string
}

// TopicPair groups the request, status and DLQ topics of the email channel.
type TopicPair struct {
	Request string
	Status  string
	DLQ     string
}

// WorkerConfig controls how consumed requests are processed.
type WorkerConfig struct {
	Concurrency         int
	CommitOnSuccessOnly bool
}

// ValidationConfig holds the limits used while validating inbound requests.
type ValidationConfig struct {
	MsgMaxBytes        int
	RecipientsMax      int
	SubjectMaxLen      int
	BodyMaxBytes       int
	AttachmentsMax     int
	AttachmentMaxBytes int
	MetaMaxEntries     int
	MetaMaxKeyLen      int
	MetaMaxValueLen    int
}

// SendinblueConfig configures the ESP backend.
type SendinblueConfig struct {
	Transport                 string
	APIKey                    string
	APIURL                    string
	IgnoreUnsupportedFeatures bool
	DefaultFrom               string
	DefaultTags               []string
	// DefaultsFile is an optional YAML file with the remaining send defaults.
	DefaultsFile              string
}

// TimeoutConfig contains timeout thresholds for outbound calls.
type TimeoutConfig struct {
	ProviderTimeoutSeconds int
}

// HealthConfig controls the health endpoint.
type HealthConfig struct {
	CheckTimeoutMs   int
	HandlerTimeoutMs int
}

// DedupConfig enables Redis backed duplicate suppression when RedisURL is set.
type DedupConfig struct {
	RedisURL   string
	TTLSeconds int
	KeyPrefix  string
}

// AMQPConfig enables mirroring status events to an AMQP exchange when URI is
// set.
type AMQPConfig struct {
	URI      string
	Exchange string
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.Port = ldr.getInt("APP_PORT", 8080, false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)

	cfg.Topics = TopicPair{
		Request: ldr.getString("KAFKA_EMAIL_REQUEST_TOPIC", "", true),
		Status:  ldr.getString("KAFKA_EMAIL_STATUS_TOPIC", "", true),
		DLQ:     ldr.getString("KAFKA_EMAIL_DLQ_TOPIC", "", true),
	}
	cfg.ConsumerGroup = ldr.getString("EMAIL_CONSUMER_GROUP", "", true)

	cfg.Worker.Concurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)
	cfg.Worker.CommitOnSuccessOnly = ldr.getBool("COMMIT_ON_SUCCESS_ONLY", true, false)

	cfg.Validation.MsgMaxBytes = ldr.getInt("MSG_MAX_BYTES", 200000, false)
	cfg.Validation.RecipientsMax = ldr.getInt("RECIPIENTS_MAX", 50, false)
	cfg.Validation.SubjectMaxLen = ldr.getInt("SUBJECT_MAX_LEN", 255, false)
	cfg.Validation.BodyMaxBytes = ldr.getInt("BODY_MAX_BYTES", 100000, false)
	cfg.Validation.AttachmentsMax = ldr.getInt("ATTACHMENTS_MAX", 10, false)
	cfg.Validation.AttachmentMaxBytes = ldr.getInt("ATTACHMENT_MAX_BYTES", 5<<20, false)
	cfg.Validation.MetaMaxEntries = ldr.getInt("META_MAX_ENTRIES", 20, false)
	cfg.Validation.MetaMaxKeyLen = ldr.getInt("META_MAX_KEY_LEN", 64, false)
	cfg.Validation.MetaMaxValueLen = ldr.getInt("META_MAX_VALUE_LEN", 256, false)

	cfg.Sendinblue = loadSendinblue(ldr)

	cfg.Timeouts.ProviderTimeoutSeconds = ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false)

	cfg.Health.CheckTimeoutMs = ldr.getInt("HEALTH_CHECK_TIMEOUT_MS", 200, false)
	cfg.Health.HandlerTimeoutMs = ldr.getInt("HEALTH_HANDLER_TIMEOUT_MS", 500, false)

	cfg.Dedup.RedisURL = ldr.getString("REDIS_URL", "", false)
	cfg.Dedup.TTLSeconds = ldr.getInt("DEDUP_TTL_SECONDS", 86400, false)
	cfg.Dedup.KeyPrefix = ldr.getString("DEDUP_KEY_PREFIX", "sendinblue-relay:sent:", false)

	cfg.AMQP.URI = ldr.getString("AMQP_URI", "", false)
	cfg.AMQP.Exchange = ldr.getString("AMQP_STATUS_EXCHANGE", "email.status", false)

	if cfg.Worker.Concurrency <= 0 {
		ldr.addError("WORKER_CONCURRENCY must be positive")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadSendinblue reads only the ESP settings. It serves tools that send
// directly without Kafka.
func LoadSendinblue() (SendinblueConfig, TimeoutConfig, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}
	sib := loadSendinblue(ldr)
	timeouts := TimeoutConfig{
		ProviderTimeoutSeconds: ldr.getInt("PROVIDER_TIMEOUT_SECONDS", 30, false),
	}
	if err := ldr.validate(); err != nil {
		return SendinblueConfig{}, TimeoutConfig{}, err
	}
	return sib, timeouts, nil
}

func loadSendinblue(ldr *envLoader) SendinblueConfig {
	var cfg SendinblueConfig

	cfg.Transport = strings.ToLower(ldr.getString("EMAIL_TRANSPORT", TransportHTTP, false))
	switch cfg.Transport {
	case TransportHTTP, TransportMock:
	default:
		ldr.addError(fmt.Sprintf("EMAIL_TRANSPORT must be %q or %q", TransportHTTP, TransportMock))
	}

	// the mock never authenticates, so a key is only demanded for real sends
	cfg.APIKey = ldr.getString("SENDINBLUE_API_KEY", "", cfg.Transport == TransportHTTP)

	cfg.APIURL = ldr.getString("SENDINBLUE_API_URL", DefaultSendinblueAPIURL, false)
	if _, err := util.ValidateHTTPURL(cfg.APIURL); err != nil {
		ldr.addError(fmt.Sprintf("SENDINBLUE_API_URL: %v", err))
	}

	cfg.IgnoreUnsupportedFeatures = ldr.getBool("SENDINBLUE_IGNORE_UNSUPPORTED_FEATURES", false, false)

	cfg.DefaultFrom = ldr.getString("SENDINBLUE_DEFAULT_FROM", "", false)
	if cfg.DefaultFrom != "" {
		if _, err := util.ParseAddress(cfg.DefaultFrom); err != nil {
			ldr.addError(fmt.Sprintf("SENDINBLUE_DEFAULT_FROM: %v", err))
		}
	}
	cfg.DefaultTags = ldr.getStringSlice("SENDINBLUE_DEFAULT_TAGS", false)
	cfg.DefaultsFile = ldr.getString("SENDINBLUE_DEFAULTS_FILE", "", false)

	return cfg
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		return val
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid integer", key))
			return def
		}
		return i
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val == "" {
			if required {
				l.addError(fmt.Sprintf("%s is required", key))
			}
			return def
		}
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			l.addError(fmt.Sprintf("%s must be a valid boolean", key))
			return def
		}
		return parsed
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return def
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
