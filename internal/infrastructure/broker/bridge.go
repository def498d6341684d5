package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/event"
)

const (
	defaultQueueSize = 256
	maxSendRetries   = 3
	baseBackoff      = 200 * time.Millisecond
	maxBackoff       = 5 * time.Second
)

// wireMessage is the Kafka payload. The routing key rides in the message key
// so consumers can filter without decoding the value.
type wireMessage struct {
	Room  string         `json:"room"`
	Event event.Envelope `json:"event"`
}

type outbound struct {
	key   string
	value []byte
}

// Bridge mirrors bus traffic onto Kafka and feeds matching broker traffic
// back in. Publishing is asynchronous behind a bounded queue: a stalled
// broker soaks into the queue and overflow is dropped, never backpressured
// into the publisher.
type Bridge struct {
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	topic    string
	logger   zerolog.Logger

	queue chan outbound

	mu        sync.RWMutex
	closed    bool
	patterns  []string
	callbacks []func(room event.Room, env event.Envelope)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config carries broker wiring.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewBridge connects the producer and, when cfg.GroupID is set, the consumer
// group. Subscriptions control which routing keys are surfaced to callbacks.
func NewBridge(cfg Config, subscriptions []string, logger zerolog.Logger) (*Bridge, error) {
	kcfg := sarama.NewConfig()
	kcfg.Producer.Return.Successes = true
	kcfg.Producer.RequiredAcks = sarama.WaitForLocal
	kcfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kcfg)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		producer: producer,
		topic:    cfg.Topic,
		logger:   logger.With().Str("transport", "broker").Logger(),
		queue:    make(chan outbound, defaultQueueSize),
		patterns: subscriptions,
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	b.wg.Add(1)
	go b.sendLoop(ctx)

	if cfg.GroupID != "" {
		group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, kcfg)
		if err != nil {
			_ = producer.Close()
			cancel()
			return nil, err
		}
		b.group = group
		b.wg.Add(1)
		go b.consumeLoop(ctx)
	}

	return b, nil
}

func (b *Bridge) Name() string { return "broker" }

// Deliver implements event.Transport. The envelope is queued for the send
// worker; when the queue is full the frame is dropped, matching the bus's
// best-effort contract.
func (b *Bridge) Deliver(room event.Room, env event.Envelope) error {
	value, err := json.Marshal(wireMessage{Room: string(room), Event: env})
	if err != nil {
		return err
	}
	// A publish that snapshotted the transport list just before shutdown can
	// still land here; the closed check drops it instead of queueing into a
	// stopped worker.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	select {
	case b.queue <- outbound{key: RoutingKey(room, env), value: value}:
		return nil
	default:
		b.logger.Warn().Str("room", string(room)).Str("type", env.Type).Msg("broker queue full, frame dropped")
		return nil
	}
}

// OnReceive implements event.Receiver.
func (b *Bridge) OnReceive(fn func(room event.Room, env event.Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, fn)
}

// Close stops the workers. The queue channel is never closed; late Delivers
// are turned away by the closed flag instead.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
	if b.group != nil {
		_ = b.group.Close()
	}
	return b.producer.Close()
}

func (b *Bridge) sendLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-b.queue:
			b.sendWithRetry(out)
		}
	}
}

func (b *Bridge) sendWithRetry(out outbound) {
	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		_, _, err := b.producer.SendMessage(&sarama.ProducerMessage{
			Topic: b.topic,
			Key:   sarama.StringEncoder(out.key),
			Value: sarama.ByteEncoder(out.value),
		})
		if err == nil {
			return
		}
		if attempt == maxSendRetries {
			b.logger.Error().Err(err).Str("key", out.key).Msg("broker send exhausted retries, frame dropped")
			return
		}
		backoff := baseBackoff * time.Duration(1<<attempt)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (b *Bridge) consumeLoop(ctx context.Context) {
	defer b.wg.Done()
	handler := &groupHandler{bridge: b}
	for {
		if err := b.group.Consume(ctx, []string{b.topic}, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error().Err(err).Msg("broker consume error")
			time.Sleep(time.Second)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// dispatch surfaces one inbound message to the callbacks when its routing
// key matches any subscription.
func (b *Bridge) dispatch(key string, value []byte) {
	b.mu.RLock()
	patterns := b.patterns
	callbacks := b.callbacks
	b.mu.RUnlock()

	matched := len(patterns) == 0
	for _, p := range patterns {
		if MatchKey(p, key) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	var msg wireMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		b.logger.Warn().Err(err).Str("key", key).Msg("undecodable broker message skipped")
		return
	}
	for _, fn := range callbacks {
		fn(event.Room(msg.Room), msg.Event)
	}
}

type groupHandler struct {
	bridge *Bridge
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.bridge.dispatch(string(msg.Key), msg.Value)
		sess.MarkMessage(msg, "")
	}
	return nil
}
