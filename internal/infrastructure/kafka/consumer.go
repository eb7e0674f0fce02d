// Package kafka consume órdenes y cierres desde un tópico y los somete al registro fiscal.
// Los offsets se confirman después de procesar cada lote.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/jhoicas/fiscal-adapter/internal/domain/entity"
)

// ConsumerConfig conexión y tópico.
type ConsumerConfig struct {
	Brokers        []string
	Group          string
	Topic          string
	RecordsPerPoll int
	RetryBase      time.Duration
	RetryMax       time.Duration
}

// Consumer loop de poll sobre un grupo de consumo.
type Consumer struct {
	client  *kgo.Client
	cfg     ConsumerConfig
	handler *Handler
	log     zerolog.Logger
}

// NewConsumer crea el cliente; el consumo empieza con Run. metrics puede ser nil.
func NewConsumer(cfg ConsumerConfig, handler *Handler, metrics *kprom.Metrics, log zerolog.Logger) (*Consumer, error) {
	if cfg.RecordsPerPoll <= 0 {
		cfg.RecordsPerPoll = 100
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}
	if metrics != nil {
		opts = append(opts, kgo.WithHooks(metrics))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Consumer{client: client, cfg: cfg, handler: handler, log: log}, nil
}

// Run consume hasta que ctx se cancela. Cierra el cliente al salir.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	c.log.Info().Str("topic", c.cfg.Topic).Str("group", c.cfg.Group).Msg("consumidor kafka iniciado")

	for {
		if ctx.Err() != nil {
			return nil
		}
		fetches := c.client.PollRecords(ctx, c.cfg.RecordsPerPoll)
		if fetches.IsClientClosed() {
			return errors.New("kafka client closed")
		}
		if errors.Is(fetches.Err0(), context.Canceled) {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("error de fetch")
		})

		records := fetches.Records()
		for _, rec := range records {
			if err := c.process(ctx, rec); err != nil {
				// ctx cancelado: el lote queda sin confirmar y se relee al reiniciar
				c.client.AllowRebalance()
				return nil
			}
		}
		if len(records) > 0 {
			if err := c.client.CommitRecords(ctx, records...); err != nil {
				c.log.Error().Err(err).Int("records", len(records)).Msg("no se pudo confirmar offsets")
			}
		}
		c.client.AllowRebalance()
	}
}

// process reintenta los errores transitorios con backoff hasta que ctx se cancela.
func (c *Consumer) process(ctx context.Context, rec *kgo.Record) error {
	for attempt := 1; ; attempt++ {
		res, err := c.handler.Handle(ctx, rec.Value)
		if err == nil {
			c.log.Info().Str("queue_item_id", res.QueueItemID).Str("transaction_id", res.TransactionID).
				Bool("duplicate", res.Duplicate).Int64("offset", rec.Offset).Msg("mensaje sometido")
			return nil
		}
		if errors.Is(err, ErrPoisonMessage) {
			c.log.Error().Err(err).Int32("partition", rec.Partition).Int64("offset", rec.Offset).
				Msg("mensaje descartado")
			return nil
		}
		wait := entity.Backoff(attempt, c.cfg.RetryBase, c.cfg.RetryMax)
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Int64("offset", rec.Offset).
			Msg("error transitorio al someter mensaje")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
