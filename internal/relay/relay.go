package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis"

	"github.com/rickgao/wskeeper/internal/journal"
)

// EventsSuffix is appended to the channel name for lifecycle entries.
const EventsSuffix = ":events"

// Client is the subset of *redis.Client the publisher needs.
type Client interface {
	Publish(channel string, message interface{}) *redis.IntCmd
	Ping() *redis.StatusCmd
	Close() error
}

// Options configures the Redis connection.
type Options struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int
}

// NewClient creates a go-redis client. MaxRetries outside 1..4 keeps the library default.
func NewClient(opts Options) *redis.Client {
	opt := &redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	}
	if opts.Password != "" {
		opt.Password = opts.Password
	}
	if opts.MaxRetries > 0 && opts.MaxRetries < 5 {
		opt.MaxRetries = opts.MaxRetries
	}
	return redis.NewClient(opt)
}

// Stats counts publisher activity.
type Stats struct {
	Messages  int64 // payloads published to the data channel
	Events    int64 // lifecycle entries published to the events channel
	Receivers int64 // sum of subscriber counts reported by Redis
	Errors    int64
}

// Publisher relays journal entries to Redis pub/sub.
// Message payloads go to Channel verbatim; everything else goes to
// Channel+EventsSuffix as JSON.
type Publisher struct {
	client  Client
	channel string
	input   *journal.Queue[journal.Entry]
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// NewPublisher creates a publisher draining input.
func NewPublisher(client Client, channel string, input *journal.Queue[journal.Entry], logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:  client,
		channel: channel,
		input:   input,
		logger:  logger.With("relay", channel),
	}
}

// Ping checks the Redis connection.
func (p *Publisher) Ping() error {
	if err := p.client.Ping().Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Start begins relaying entries.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.relayLoop()

	p.logger.Info("relay started", "events_channel", p.channel+EventsSuffix)
	return nil
}

// Stop halts the loop and publishes whatever is still queued.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("relay stop timed out")
		return ctx.Err()
	}

	for _, e := range p.input.DrainTo(0) {
		if ctx.Err() != nil {
			break
		}
		p.publish(e)
	}

	p.logger.Info("relay stopped")
	return nil
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Publisher) relayLoop() {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}

		e, ok := p.input.TryReceive()
		if !ok {
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		p.publish(e)
	}
}

// route returns the target channel and wire body for e.
func (p *Publisher) route(e journal.Entry) (string, []byte, error) {
	if e.Kind == journal.KindMessage {
		return p.channel, e.Payload, nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("encode entry: %w", err)
	}
	return p.channel + EventsSuffix, body, nil
}

func (p *Publisher) publish(e journal.Entry) {
	channel, body, err := p.route(e)
	if err == nil {
		var n int64
		n, err = p.client.Publish(channel, body).Result()
		if err == nil {
			p.mu.Lock()
			if e.Kind == journal.KindMessage {
				p.stats.Messages++
			} else {
				p.stats.Events++
			}
			p.stats.Receivers += n
			p.mu.Unlock()
			return
		}
	}

	p.logger.Error("relay publish failed", "kind", e.Kind, "error", err)
	p.mu.Lock()
	p.stats.Errors++
	p.mu.Unlock()
}
