package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	// IdempotencyDriverStorage хранит ключи там же, где и заказы.
	IdempotencyDriverStorage = "storage"
	IdempotencyDriverRedis   = "redis"

	envPrefix = "STOREFRONT"
)

// Config — настройки запуска storefront. Значения по умолчанию даёт DefaultConfig,
// переопределения читаются из config.yaml и переменных STOREFRONT_*.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`
	GRPCAddr    string `mapstructure:"grpc_addr"`
	HTTPAddr    string `mapstructure:"http_addr"`

	StorageDriver       string `mapstructure:"storage_driver"`
	PostgresDSN         string `mapstructure:"postgres_dsn"`
	PostgresAutoMigrate bool   `mapstructure:"postgres_auto_migrate"`

	IdempotencyDriver           string        `mapstructure:"idempotency_driver"`
	RedisAddr                   string        `mapstructure:"redis_addr"`
	RedisPassword               string        `mapstructure:"redis_password"`
	RedisDB                     int           `mapstructure:"redis_db"`
	IdempotencyCleanupInterval  time.Duration `mapstructure:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `mapstructure:"idempotency_cleanup_batch_size"`

	KafkaBrokers    string `mapstructure:"kafka_brokers"`
	KafkaAuditGroup string `mapstructure:"kafka_audit_group"`

	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts  int           `mapstructure:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `mapstructure:"outbox_retry_delay"`

	PaymentExpiryInterval  time.Duration `mapstructure:"payment_expiry_interval"`
	PaymentExpiryMaxAge    time.Duration `mapstructure:"payment_expiry_max_age"`
	PaymentExpiryBatchSize int           `mapstructure:"payment_expiry_batch_size"`

	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	TraceSampleRate float64 `mapstructure:"trace_sample_rate"`

	// StoreTimezone задаёт границы дней для сроков офферов.
	StoreTimezone string `mapstructure:"store_timezone"`

	Gateway GatewayConfig `mapstructure:"gateway"`
	Policy  PolicyConfig  `mapstructure:"policy"`
}

// GatewayConfig — платёжный шлюз. Пустой BaseURL включает встроенный мок.
type GatewayConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	KeyID        string        `mapstructure:"key_id"`
	KeySecret    string        `mapstructure:"key_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// PolicyConfig — политика оформления. Суммы задаются строками.
type PolicyConfig struct {
	CODMaxAmount          string `mapstructure:"cod_max_amount"`
	GatewayMinAmount      string `mapstructure:"gateway_min_amount"`
	MaxQuantityPerItem    int    `mapstructure:"max_quantity_per_item"`
	Currency              string `mapstructure:"currency"`
	FreeShippingThreshold string `mapstructure:"free_shipping_threshold"`
	ShippingFee           string `mapstructure:"shipping_fee"`
	ReturnReasonMinLength int    `mapstructure:"return_reason_min_length"`
}

// DefaultConfig возвращает конфигурацию для локального запуска в памяти.
func DefaultConfig() Config {
	policy := domain.DefaultPolicy()
	return Config{
		ServiceName: "storefront",
		LogLevel:    "info",
		GRPCAddr:    ":50051",
		HTTPAddr:    ":8080",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		IdempotencyDriver:           IdempotencyDriverStorage,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		PaymentExpiryInterval:  time.Minute,
		PaymentExpiryMaxAge:    30 * time.Minute,
		PaymentExpiryBatchSize: 100,

		TraceSampleRate: 1,
		StoreTimezone:   "UTC",

		Gateway: GatewayConfig{
			KeyID:        "rzp_test_local",
			KeySecret:    "local-secret",
			Timeout:      10 * time.Second,
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		Policy: PolicyConfig{
			CODMaxAmount:          policy.CODMaxAmount.String(),
			GatewayMinAmount:      policy.GatewayMinAmount.String(),
			MaxQuantityPerItem:    policy.MaxQuantityPerItem,
			Currency:              policy.Currency,
			FreeShippingThreshold: policy.FreeShippingThreshold.String(),
			ShippingFee:           policy.ShippingFee.String(),
			ReturnReasonMinLength: policy.ReturnReasonMinLength,
		},
	}
}

// LoadConfig накладывает config.yaml (если найден) и переменные окружения
// STOREFRONT_* на DefaultConfig. Вложенные ключи: STOREFRONT_GATEWAY_KEY_ID.
func LoadConfig(paths ...string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults регистрирует все ключи: без этого AutomaticEnv не виден в Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"service_name":                   d.ServiceName,
		"log_level":                      d.LogLevel,
		"grpc_addr":                      d.GRPCAddr,
		"http_addr":                      d.HTTPAddr,
		"storage_driver":                 d.StorageDriver,
		"postgres_dsn":                   d.PostgresDSN,
		"postgres_auto_migrate":          d.PostgresAutoMigrate,
		"idempotency_driver":             d.IdempotencyDriver,
		"redis_addr":                     d.RedisAddr,
		"redis_password":                 d.RedisPassword,
		"redis_db":                       d.RedisDB,
		"idempotency_cleanup_interval":   d.IdempotencyCleanupInterval,
		"idempotency_cleanup_batch_size": d.IdempotencyCleanupBatchSize,
		"kafka_brokers":                  d.KafkaBrokers,
		"kafka_audit_group":              d.KafkaAuditGroup,
		"outbox_poll_interval":           d.OutboxPollInterval,
		"outbox_batch_size":              d.OutboxBatchSize,
		"outbox_max_attempts":            d.OutboxMaxAttempts,
		"outbox_retry_delay":             d.OutboxRetryDelay,
		"payment_expiry_interval":        d.PaymentExpiryInterval,
		"payment_expiry_max_age":         d.PaymentExpiryMaxAge,
		"payment_expiry_batch_size":      d.PaymentExpiryBatchSize,
		"otlp_endpoint":                  d.OTLPEndpoint,
		"trace_sample_rate":              d.TraceSampleRate,
		"store_timezone":                 d.StoreTimezone,

		"gateway.base_url":      d.Gateway.BaseURL,
		"gateway.key_id":        d.Gateway.KeyID,
		"gateway.key_secret":    d.Gateway.KeySecret,
		"gateway.timeout":       d.Gateway.Timeout,
		"gateway.max_failures":  d.Gateway.MaxFailures,
		"gateway.reset_timeout": d.Gateway.ResetTimeout,

		"policy.cod_max_amount":           d.Policy.CODMaxAmount,
		"policy.gateway_min_amount":       d.Policy.GatewayMinAmount,
		"policy.max_quantity_per_item":    d.Policy.MaxQuantityPerItem,
		"policy.currency":                 d.Policy.Currency,
		"policy.free_shipping_threshold":  d.Policy.FreeShippingThreshold,
		"policy.shipping_fee":             d.Policy.ShippingFee,
		"policy.return_reason_min_length": d.Policy.ReturnReasonMinLength,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Validate проверяет согласованность драйверов и политики.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres_dsn is required for postgres storage driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.IdempotencyDriver {
	case "", IdempotencyDriverStorage:
	case IdempotencyDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("redis_addr is required for redis idempotency driver")
		}
	default:
		return fmt.Errorf("unsupported idempotency driver %q", c.IdempotencyDriver)
	}

	if _, err := c.CheckoutPolicy(); err != nil {
		return err
	}
	return nil
}

// CheckoutPolicy собирает domain.Policy; пустые поля берутся из DefaultPolicy.
func (c Config) CheckoutPolicy() (domain.Policy, error) {
	policy := domain.DefaultPolicy()

	amounts := []struct {
		name  string
		raw   string
		field *decimal.Decimal
	}{
		{"cod_max_amount", c.Policy.CODMaxAmount, &policy.CODMaxAmount},
		{"gateway_min_amount", c.Policy.GatewayMinAmount, &policy.GatewayMinAmount},
		{"free_shipping_threshold", c.Policy.FreeShippingThreshold, &policy.FreeShippingThreshold},
		{"shipping_fee", c.Policy.ShippingFee, &policy.ShippingFee},
	}
	for _, a := range amounts {
		if strings.TrimSpace(a.raw) == "" {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(a.raw))
		if err != nil || d.IsNegative() {
			return domain.Policy{}, fmt.Errorf("invalid policy.%s %q", a.name, a.raw)
		}
		*a.field = d
	}

	if c.Policy.MaxQuantityPerItem > 0 {
		policy.MaxQuantityPerItem = c.Policy.MaxQuantityPerItem
	}
	if c.Policy.ReturnReasonMinLength > 0 {
		policy.ReturnReasonMinLength = c.Policy.ReturnReasonMinLength
	}
	if cur := strings.TrimSpace(c.Policy.Currency); cur != "" {
		policy.Currency = strings.ToUpper(cur)
	}
	return policy, nil
}

// Brokers разбирает список брокеров Kafka через запятую.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
