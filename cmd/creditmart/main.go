package main

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iurnickita/creditmart/internal/auth"
	"github.com/iurnickita/creditmart/internal/config"
	"github.com/iurnickita/creditmart/internal/handler"
	"github.com/iurnickita/creditmart/internal/logger"
	"github.com/iurnickita/creditmart/internal/metrics"
	"github.com/iurnickita/creditmart/internal/notify"
	"github.com/iurnickita/creditmart/internal/service"
	"github.com/iurnickita/creditmart/internal/store"
	"github.com/iurnickita/creditmart/internal/token"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	if cfg.Token.SecretKey == config.DefaultTokenSecret {
		zaplog.Warn("TOKEN_SECRET is not set, using the built-in secret; tokens can be forged")
	}

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier := notify.NewNotifier(cfg.Notify, zaplog)
	defer notifier.Close()

	metrics.InitMetrics(prometheus.DefaultRegisterer)

	auth := auth.NewAuth(store, token.NewToken(cfg.Token), zaplog)
	service, err := service.NewService(cfg.Service, store, notifier, zaplog)
	if err != nil {
		return err
	}

	return handler.Serve(cfg.Handler, auth, service, zaplog)
}
