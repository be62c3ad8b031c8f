package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Game Game `mapstructure:"GAME"`
}

// Game holds the promise lifecycle policy knobs.
type Game struct {
	// VouchThreshold is the accumulated vouch signal required to complete
	// a promise. Interpreted per VouchPolicy.
	VouchThreshold int64 `mapstructure:"VOUCH_THRESHOLD"`
	// VouchPolicy is either "count" (distinct vouches) or "weight"
	// (sum of reputation-weighted vouches).
	VouchPolicy       string        `mapstructure:"VOUCH_POLICY"`
	ReputationReward  int64         `mapstructure:"REPUTATION_REWARD"`
	CoinReward        int64         `mapstructure:"COIN_REWARD"`
	PenaltyOffset     int64         `mapstructure:"PENALTY_OFFSET"`
	EvidenceMinLength int           `mapstructure:"EVIDENCE_MIN_LENGTH"`
	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	ReminderLead      time.Duration `mapstructure:"REMINDER_LEAD"`
}

const (
	VouchPolicyCount  = "count"
	VouchPolicyWeight = "weight"
)

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		client := p.Vault
		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
		secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}

		get := func(key string) string {
			if val, ok := secret.Data.Data[key].(string); ok {
				return val
			}
			return ""
		}

		cfg.Database.User = get("postgres_user")
		cfg.Database.Password = get("postgres_password")
		cfg.Redis.Password = get("redis_password")
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "promisekeeper")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")

	v.SetDefault("GAME.VOUCH_THRESHOLD", 3)
	v.SetDefault("GAME.VOUCH_POLICY", VouchPolicyCount)
	v.SetDefault("GAME.REPUTATION_REWARD", 10)
	v.SetDefault("GAME.COIN_REWARD", 50)
	v.SetDefault("GAME.PENALTY_OFFSET", -5)
	v.SetDefault("GAME.EVIDENCE_MIN_LENGTH", 10)
	v.SetDefault("GAME.SWEEP_INTERVAL", time.Minute)
	v.SetDefault("GAME.REMINDER_LEAD", 24*time.Hour)
}

// DefaultGame returns the game policy defaults used when no config file is
// present, mainly by tests.
func DefaultGame() Game {
	return Game{
		VouchThreshold:    3,
		VouchPolicy:       VouchPolicyCount,
		ReputationReward:  10,
		CoinReward:        50,
		PenaltyOffset:     -5,
		EvidenceMinLength: 10,
		SweepInterval:     time.Minute,
		ReminderLead:      24 * time.Hour,
	}
}
