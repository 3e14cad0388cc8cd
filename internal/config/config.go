package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	handlerConfig "github.com/iurnickita/creditmart/internal/handler/config"
	loggerConfig "github.com/iurnickita/creditmart/internal/logger/config"
	notifyConfig "github.com/iurnickita/creditmart/internal/notify/config"
	serviceConfig "github.com/iurnickita/creditmart/internal/service/config"
	storeConfig "github.com/iurnickita/creditmart/internal/store/config"
	tokenConfig "github.com/iurnickita/creditmart/internal/token/config"
)

type Config struct {
	Handler handlerConfig.Config
	Service serviceConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
	Notify  notifyConfig.Config
	Token   tokenConfig.Config
}

// Ключи совпадают с именами переменных окружения (viper переводит их в верхний регистр)
const (
	keyRunAddress     = "run_address"
	keyDatabaseURI    = "database_uri"
	keyPaymentAddress = "payment_system_address"
	keyLogLevel       = "log_level"
	keyKafkaBrokers   = "kafka_brokers"
	keyKafkaTopic     = "kafka_topic"
	keyTokenSecret    = "token_secret"
	keyTokenTTL       = "token_ttl"
)

// DefaultTokenSecret подходит только для запуска без базы данных
const DefaultTokenSecret = "creditmart-secret"

var ErrDefaultTokenSecret = errors.New("TOKEN_SECRET must be set when DATABASE_URI is used")

func GetConfig() (Config, error) {
	return loadConfig(os.Args[1:])
}

// Приоритет: явно заданный флаг, затем переменная окружения, затем значение по умолчанию
func loadConfig(args []string) (Config, error) {
	fs := pflag.NewFlagSet("creditmart", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	fs.StringP("address", "a", ":8080", "server address")
	fs.StringP("database", "d", "", "database DSN")
	fs.StringP("payment", "r", "", "payment system address")
	fs.StringP("loglevel", "l", "info", "log level")
	fs.StringP("kafka", "k", "", "kafka brokers, comma separated")
	fs.StringP("topic", "t", "creditmart.listings", "kafka topic")
	fs.StringP("secret", "s", DefaultTokenSecret, "token secret key")
	fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.AutomaticEnv()
	bindings := map[string]string{
		keyRunAddress:     "address",
		keyDatabaseURI:    "database",
		keyPaymentAddress: "payment",
		keyLogLevel:       "loglevel",
		keyKafkaBrokers:   "kafka",
		keyKafkaTopic:     "topic",
		keyTokenSecret:    "secret",
		keyTokenTTL:       "ttl",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	cfg.Handler.ServerAddr = v.GetString(keyRunAddress)
	cfg.Store.DBDsn = v.GetString(keyDatabaseURI)
	cfg.Service.PaymentAddr = v.GetString(keyPaymentAddress)
	cfg.Logger.LogLevel = v.GetString(keyLogLevel)
	cfg.Notify.KafkaBrokers = splitList(v.GetString(keyKafkaBrokers))
	cfg.Notify.KafkaTopic = v.GetString(keyKafkaTopic)
	cfg.Token.SecretKey = v.GetString(keyTokenSecret)
	cfg.Token.TTL = v.GetDuration(keyTokenTTL)

	// значение из окружения viper не проверяет
	if _, err := time.ParseDuration(v.GetString(keyTokenTTL)); err != nil {
		return Config{}, fmt.Errorf("%s: %w", keyTokenTTL, err)
	}
	if cfg.Token.SecretKey == DefaultTokenSecret && cfg.Store.DBDsn != "" {
		return Config{}, ErrDefaultTokenSecret
	}

	return cfg, nil
}

func splitList(s string) []string {
	var list []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
