// README: Redis pub/sub fan-out of session notifications for other processes.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"navi/internal/logging"
	"navi/internal/modules/navigation"
	"navi/internal/types"
)

const (
	publishTimeout   = 2 * time.Second
	defaultQueueSize = 256
)

// Envelope is the wire form of a notification.
type Envelope struct {
	SessionID string               `json:"session_id"`
	Event     navigation.Event     `json:"event"`
	At        time.Time            `json:"at"`
	Route     *navigation.Route    `json:"route,omitempty"`
	Progress  *navigation.Progress `json:"progress,omitempty"`
	Arrival   *navigation.Arrival  `json:"arrival,omitempty"`
	Location  *types.Point         `json:"location,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func NewEnvelope(n navigation.Notification) Envelope {
	env := Envelope{
		SessionID: n.SessionID,
		Event:     n.Event,
		At:        n.At,
		Route:     n.Route,
		Progress:  n.Progress,
		Arrival:   n.Arrival,
		Location:  n.Location,
	}
	if n.Err != nil {
		env.Error = n.Err.Error()
	}
	return env
}

// Channel is the Redis channel carrying a session's notifications.
func Channel(sessionID string) string {
	return fmt.Sprintf("navi:session:%s:events", sessionID)
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// message is one encoded envelope waiting to be published.
type message struct {
	channel string
	body    []byte
}

// Publisher republishes every notification of the sessions it observes.
// Handlers only enqueue; Run does the Redis round trips so a slow Redis never
// stalls the session's notify path. Notifications that find the queue full are
// dropped and logged.
type Publisher struct {
	pub   redisPublisher
	log   logging.Logger
	queue chan message
}

func NewPublisher(client *redis.Client, log logging.Logger) *Publisher {
	p := newPublisher(nil, log, defaultQueueSize)
	if client != nil {
		p.pub = client
	}
	return p
}

func newPublisher(pub redisPublisher, log logging.Logger, size int) *Publisher {
	return &Publisher{pub: pub, log: logging.OrNoop(log), queue: make(chan message, size)}
}

func (p *Publisher) Name() string { return "broadcast" }

func (p *Publisher) Handlers(sessionID string) navigation.Handlers {
	channel := Channel(sessionID)
	return navigation.AllHandlers(func(n navigation.Notification) {
		body, err := json.Marshal(NewEnvelope(n))
		if err != nil {
			p.log.Warn(context.Background(), "broadcast envelope encoding failed",
				logging.String("channel", channel), logging.Err(err))
			return
		}
		select {
		case p.queue <- message{channel: channel, body: body}:
		default:
			p.log.Warn(context.Background(), "broadcast queue full; notification dropped",
				logging.String("channel", channel),
				logging.String("event", string(n.Event)))
		}
	})
}

// Run publishes queued notifications until ctx is done, then drains what is left.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case m := <-p.queue:
			p.publish(ctx, m)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *Publisher) drain() {
	ctx := context.Background()
	for {
		select {
		case m := <-p.queue:
			p.publish(ctx, m)
		default:
			return
		}
	}
}

func (p *Publisher) publish(parent context.Context, m message) {
	if p.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), publishTimeout)
	defer cancel()
	if err := p.pub.Publish(ctx, m.channel, m.body).Err(); err != nil {
		p.log.Warn(ctx, "broadcast publish failed",
			logging.String("channel", m.channel), logging.Err(err))
	}
}

// Subscription reads one session's notifications from Redis.
type Subscription struct {
	ps  *redis.PubSub
	log logging.Logger
}

// Subscribe listens on a session's channel. It returns once Redis has
// confirmed the subscription, so nothing published afterwards is missed.
func Subscribe(ctx context.Context, client *redis.Client, sessionID string, log logging.Logger) (*Subscription, error) {
	if client == nil {
		return nil, errors.New("broadcast: subscribe requires a redis client")
	}
	ps := client.Subscribe(ctx, Channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(sessionID), err)
	}
	return &Subscription{ps: ps, log: logging.OrNoop(log)}, nil
}

// Each calls fn for every envelope until ctx is done, the subscription is
// closed, or fn returns false.
func (s *Subscription) Each(ctx context.Context, fn func(Envelope) bool) {
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.log.Warn(ctx, "broadcast envelope decode failed", logging.Err(err))
				continue
			}
			if !fn(env) {
				return
			}
		}
	}
}

func (s *Subscription) Close() error { return s.ps.Close() }
