package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	JWTSecret string // JWT署名シークレット
	GoEnv     string // dev/prod

	Currency        string        // 決済通貨（usd）
	SessionTTL      time.Duration // チェックアウトセッションの有効期限
	SuccessURL      string        // 決済完了後の戻り先
	CancelURL       string        // キャンセル時の戻り先
	ProviderTimeout time.Duration // プロバイダAPIのタイムアウト

	Stripe      StripeConfig
	MobileMoney MobileMoneyConfig

	KafkaBrokers string // CSV。空ならKafka無効
	AuditTopic   string
	AuditBuffer  int

	RedisAddr      string // 空ならクーポンキャッシュ無効
	CouponCacheTTL time.Duration

	SweepInterval time.Duration // 期限切れセッションの掃除間隔
}

type StripeConfig struct {
	APIBase           string
	SecretKey         string
	WebhookSecret     string
	ShippingCountries []string
}

// シークレットが揃っているときだけ登録する
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != "" && c.WebhookSecret != ""
}

type MobileMoneyConfig struct {
	APIBase       string
	APIKey        string
	WebhookSecret string
	MNOs          []string
	StatusURL     string
	CallbackURL   string
}

func (c MobileMoneyConfig) Enabled() bool {
	return c.APIKey != "" && c.WebhookSecret != ""
}

// Loadは環境変数
func Load() (Config, error) {
	var err error
	cfg := Config{
		Port:       getenv("PORT", "8080"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		GoEnv:      getenv("GO_ENV", "prod"),
		Currency:   strings.ToLower(getenv("SETTLEMENT_CURRENCY", "usd")),
		SuccessURL: os.Getenv("CHECKOUT_SUCCESS_URL"),
		CancelURL:  os.Getenv("CHECKOUT_CANCEL_URL"),

		Stripe: StripeConfig{
			APIBase:       getenv("STRIPE_API_BASE", "https://api.stripe.com"),
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

			//配送先の国コード（カンマ区切り）
			ShippingCountries: splitCSV(strings.ToUpper(getenv("STRIPE_SHIPPING_COUNTRIES", "US"))),
		},
		MobileMoney: MobileMoneyConfig{
			APIBase:       os.Getenv("MOBILE_MONEY_API_BASE"),
			APIKey:        os.Getenv("MOBILE_MONEY_API_KEY"),
			WebhookSecret: os.Getenv("MOBILE_MONEY_WEBHOOK_SECRET"),
			MNOs:          splitCSV(os.Getenv("MOBILE_MONEY_MNOS")),
			StatusURL:     os.Getenv("MOBILE_MONEY_STATUS_URL"),
			CallbackURL:   os.Getenv("MOBILE_MONEY_CALLBACK_URL"),
		},

		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		AuditTopic:   getenv("AUDIT_TOPIC", "checkout-audit"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
	}

	if cfg.SessionTTL, err = durationOr("CHECKOUT_SESSION_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ProviderTimeout, err = durationOr("PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CouponCacheTTL, err = durationOr("COUPON_CACHE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationOr("SESSION_SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.AuditBuffer, err = atoiOr("AUDIT_BUFFER", 1024); err != nil {
		return Config{}, err
	}

	//必須チェック
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("CHECKOUT_SESSION_TTL must be positive")
	}
	if !cfg.Stripe.Enabled() && !cfg.MobileMoney.Enabled() {
		return Config{}, fmt.Errorf("at least one payment provider must be configured")
	}
	if cfg.MobileMoney.Enabled() {
		if cfg.MobileMoney.APIBase == "" {
			return Config{}, fmt.Errorf("MOBILE_MONEY_API_BASE is required")
		}
		if len(cfg.MobileMoney.MNOs) == 0 {
			return Config{}, fmt.Errorf("MOBILE_MONEY_MNOS is required")
		}
	}

	return cfg, nil
}

func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func (c Config) IsDev() bool {
	return c.GoEnv == "dev"
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	return d, nil
}

func splitCSV(v string) []string {
	out := []string{}
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
