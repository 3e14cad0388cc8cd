package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/iurnickita/creditmart/internal/model"
	"github.com/iurnickita/creditmart/internal/notify/config"
)

// Notifier публикует события по лотам для внешних подписчиков (индексаторы, витрины)
type Notifier interface {
	Notify(ctx context.Context, event model.Event) error
	Close() error
}

// NewNotifier всегда пишет события в лог, а при заданных брокерах еще и в Kafka
func NewNotifier(cfg config.Config, zaplog *zap.Logger) Notifier {
	notifiers := []Notifier{NewLogNotifier(zaplog)}
	if len(cfg.KafkaBrokers) > 0 {
		notifiers = append(notifiers, NewKafkaNotifier(cfg))
	}
	return Multi(notifiers...)
}

// Лог

type logNotifier struct {
	zaplog *zap.Logger
}

func NewLogNotifier(zaplog *zap.Logger) Notifier {
	return &logNotifier{zaplog: zaplog}
}

func (n *logNotifier) Notify(_ context.Context, event model.Event) error {
	n.zaplog.Info("listing event",
		zap.String("type", string(event.Type)),
		zap.Int64("listing", event.ListingID),
		zap.String("owner", event.Owner),
		zap.String("buyer", event.Buyer),
		zap.String("credit_type", event.CreditType),
		zap.Int64("amount", event.Amount),
		zap.Int64("price_per_unit", event.PricePerUnit),
		zap.Int64("total_price", event.TotalPrice),
	)
	return nil
}

func (n *logNotifier) Close() error {
	return nil
}

// Kafka

type kafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(cfg config.Config) Notifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &kafkaNotifier{writer: w}
}

func (n *kafkaNotifier) Notify(ctx context.Context, event model.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// ключ - номер лота, события одного лота попадают в одну партицию по порядку
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.ListingID, 10)),
		Value: value,
	})
}

func (n *kafkaNotifier) Close() error {
	return n.writer.Close()
}

// Рассылка в несколько каналов

type multi []Notifier

func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}

func (m multi) Notify(ctx context.Context, event model.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
