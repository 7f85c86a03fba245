package redisx

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

const nudgeChannelPrefix = "nudges:"

// NudgeChannel returns the pub/sub channel a user's nudges go to.
func NudgeChannel(userID string) string { return nudgeChannelPrefix + userID }

// Publisher fans nudge payloads out over Redis pub/sub.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, userID string, payload []byte) error {
	return p.client.Publish(ctx, NudgeChannel(userID), payload).Err()
}

// Message is one nudge received from the wire, attributed to its user.
type Message struct {
	UserID  string
	Payload []byte
}

// Subscriber listens on every nudge channel and feeds a delivery sink,
// typically the websocket hub.
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Run subscribes to all nudge channels and forwards messages to
// deliver until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context, deliver func(Message)) error {
	sub := s.client.PSubscribe(ctx, nudgeChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID := strings.TrimPrefix(msg.Channel, nudgeChannelPrefix)
			deliver(Message{UserID: userID, Payload: []byte(msg.Payload)})
		}
	}
}
