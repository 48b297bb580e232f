package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel é o canal Redis usado para eventos de chamados.
const DefaultChannel = "manutencao:issues:events"

// RedisBus usa pub/sub do Redis para distribuir eventos entre instâncias da API.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisBus cria o barramento sobre um cliente existente.
func NewRedisBus(client *redis.Client, channel string, logger zerolog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{client: client, channel: channel, logger: logger}
}

// Publish serializa o evento em JSON e publica no canal.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := encodeEvent(stamp(event))
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publicar evento: %w", err)
	}
	return nil
}

// Subscribe abre uma assinatura Redis dedicada. Falha de conexão fecha o canal imediatamente.
func (b *RedisBus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, CancelFunc) {
	out := make(chan Event, subscriberBuffer)
	pubsub := b.client.Subscribe(ctx, b.channel)

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		b.logger.Warn().Err(err).Str("channel", b.channel).Msg("falha ao assinar canal de eventos")
		cancel()
		close(out)
		return out, cancel
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				event, err := decodeEvent(msg.Payload)
				if err != nil {
					b.logger.Warn().Err(err).Msg("evento inválido ignorado")
					continue
				}
				if !filter.Match(event) {
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				case <-ctx.Done():
					cancel()
					return
				}
			}
		}
	}()

	return out, cancel
}

func encodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
