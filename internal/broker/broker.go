package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// DefaultHistorySize is the default bounded history ring buffer size.
const DefaultHistorySize = 1000

// DefaultRequestTimeout is the default requestResponse timeout.
const DefaultRequestTimeout = 30 * time.Second

// ErrRateLimited is returned by Publish when WithPublishRateLimit is set
// and the limiter has no tokens available.
var ErrRateLimited = errors.New("publish rate limit exceeded")

// Handler processes a delivered message. A handler that panics is
// recovered and logged and does not affect other subscribers.
type Handler func(Message)

type subscription struct {
	id      string
	channel string
	handler Handler

	mu     sync.Mutex
	queue  []Message
	notify chan struct{}
	done   chan struct{}
}

func newSubscription(channel string, h Handler) *subscription {
	return &subscription{
		id:      shortuuid.New(),
		channel: channel,
		handler: h,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// enqueue appends a message to the subscription's private FIFO. It never
// blocks the publisher on a slow consumer.
func (s *subscription) enqueue(m Message) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) run(logger *slog.Logger) {
	for {
		s.mu.Lock()
		var m Message
		hasMsg := false
		if len(s.queue) > 0 {
			m = s.queue[0]
			s.queue = s.queue[1:]
			hasMsg = true
		}
		s.mu.Unlock()

		if hasMsg {
			s.invoke(m, logger)
			continue
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) invoke(m Message, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("broker handler panicked", "subscription", s.id, "channel", s.channel, "recover", r)
		}
	}()
	s.handler(m)
}

func (s *subscription) stop() {
	close(s.done)
}

// Broker is the publish/subscribe fabric. Channel membership and history
// are protected by a lock held only around mutation; each subscription's own queue is single-writer-many-reader via
// its own mutex, so publish never blocks on a slow handler.
type Broker struct {
	mu            sync.RWMutex
	subsByChannel map[string][]*subscription
	subsByID      map[string]*subscription

	historyMu   sync.Mutex
	history     []Message
	historySize int

	channels *channelManager
	logger   *slog.Logger
	limiter  *rate.Limiter

	publishes   prometheus.Counter
	deliveries  prometheus.Counter
	expired     prometheus.Counter
	throttled   prometheus.Counter
}

// Option configures a Broker at construction.
type Option func(*Broker)

func WithHistorySize(n int) Option {
	return func(b *Broker) { b.historySize = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithPublishRateLimit caps Publish to r messages/sec with a burst of b,
// shedding any publish beyond that rather than blocking the caller.
// Unset, the broker is unthrottled.
func WithPublishRateLimit(r float64, burst int) Option {
	return func(br *Broker) { br.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

func New(opts ...Option) *Broker {
	b := &Broker{
		subsByChannel: make(map[string][]*subscription),
		subsByID:      make(map[string]*subscription),
		historySize:   DefaultHistorySize,
		channels:      newChannelManager(),
		logger:        slog.Default(),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_broker_publishes_total",
			Help: "Total messages published.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_broker_deliveries_total",
			Help: "Total per-subscriber deliveries.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_broker_expired_total",
			Help: "Total messages dropped for having expired before publish.",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aurora_broker_throttled_total",
			Help: "Total messages dropped by the publish rate limit.",
		}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Broker) Collectors() []prometheus.Collector {
	return []prometheus.Collector{b.publishes, b.deliveries, b.expired, b.throttled}
}

// Publish enqueues message to every subscriber inbox currently subscribed
// to its channel, returning the delivery count. Expired messages are
// dropped and return 0. Recorded into the bounded history buffer
// regardless of delivery count.
func (b *Broker) Publish(ctx context.Context, m Message) (int, error) {
	if m.IsExpired() {
		b.expired.Inc()
		return 0, nil
	}
	if b.limiter != nil && !b.limiter.Allow() {
		b.throttled.Inc()
		return 0, ErrRateLimited
	}
	b.publishes.Inc()

	b.mu.RLock()
	subs := append([]*subscription(nil), b.subsByChannel[m.Channel]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.enqueue(m)
		b.deliveries.Inc()
	}

	b.channels.ensure(m.Channel, inferChannelType(m.Channel))
	b.channels.recordMessage(m.Channel)
	b.recordHistory(m)

	return len(subs), nil
}

func (b *Broker) recordHistory(m Message) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.history = append(b.history, m)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns the most recent messages recorded, oldest first.
func (b *Broker) History() []Message {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	out := make([]Message, len(b.history))
	copy(out, b.history)
	return out
}

// Subscribe registers a handler for channel and returns an opaque
// subscription id, per the "no subscriber holds a back-pointer" resolution
// of the cyclic pub/sub reference in design notes.
func (b *Broker) Subscribe(channel string, h Handler) string {
	sub := newSubscription(channel, h)
	b.mu.Lock()
	b.subsByChannel[channel] = append(b.subsByChannel[channel], sub)
	b.subsByID[sub.id] = sub
	b.mu.Unlock()
	b.channels.addSubscriber(channel, sub.id, inferChannelType(channel))
	go sub.run(b.logger)
	return sub.id
}

// Unsubscribe removes a subscription; if the channel has no remaining
// subscribers its routing entry is dropped. The channel's metadata stays
// in the channel manager with an empty subscriber list.
func (b *Broker) Unsubscribe(subID string) {
	b.mu.Lock()
	sub, ok := b.subsByID[subID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subsByID, subID)
	list := b.subsByChannel[sub.channel]
	for i, s := range list {
		if s.id == subID {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subsByChannel, sub.channel)
	} else {
		b.subsByChannel[sub.channel] = list
	}
	b.mu.Unlock()

	b.channels.removeSubscriber(sub.channel, subID)
	sub.stop()
}

// SendDirect targets recipientID's inbox channel and publishes.
func (b *Broker) SendDirect(ctx context.Context, recipientID string, m Message) (int, error) {
	m.RecipientID = recipientID
	m.Channel = AgentChannel(recipientID)
	return b.Publish(ctx, m)
}

// Broadcast constructs a broadcast-type message on channel and publishes.
func (b *Broker) Broadcast(ctx context.Context, sender, channel string, payload map[string]any) (int, error) {
	return b.Publish(ctx, NewBroadcast(sender, channel, payload, PriorityNormal))
}

// ErrRequestTimeout is returned by RequestResponse when no reply arrives in
// time.
var ErrRequestTimeout = errors.New("request timeout")

// RequestResponse assigns a correlation id, subscribes a one-shot handler
// on response:<corrId>, publishes the request, and waits up to timeout for
// a correlated reply. On timeout the subscription is cleaned up and
// ErrRequestTimeout is returned, leaking zero subscribers.
func (b *Broker) RequestResponse(ctx context.Context, m Message, timeout time.Duration) (*Message, error) {
	if m.CorrelationID == "" {
		m.CorrelationID = shortuuid.New()
	}
	respCh := ResponseChannel(m.CorrelationID)

	replies := make(chan Message, 1)
	subID := b.Subscribe(respCh, func(reply Message) {
		if reply.CorrelationID != m.CorrelationID {
			return // mis-correlated messages are ignored
		}
		select {
		case replies <- reply:
		default:
		}
	})
	defer b.Unsubscribe(subID)

	if _, err := b.Publish(ctx, m); err != nil {
		return nil, errors.Wrap(err, "publish request")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replies:
		return &reply, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop cancels every subscription's delivery loop. In-flight handlers
// complete naturally.
func (b *Broker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subsByID {
		sub.stop()
	}
}

// ChannelSnapshot exposes channel metadata for status/diagnostics.
func (b *Broker) ChannelSnapshot() []Channel {
	return b.channels.snapshot()
}

// DeleteChannel refuses to delete system channels (I-... channel
// invariant).
func (b *Broker) DeleteChannel(name string) error {
	return b.channels.delete(name)
}
