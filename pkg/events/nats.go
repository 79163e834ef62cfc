package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

type NATS struct {
	conn *nats.Conn
}

func ConnectNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("agm-payments"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) Close() {
	if n != nil && n.conn != nil {
		n.conn.Close()
	}
}

// Publish sends ev on the subject named by its type.
func (n *NATS) Publish(_ context.Context, ev Event) error {
	if n == nil || n.conn == nil {
		return nats.ErrConnectionClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return n.conn.Publish(ev.Type, data)
}

func (n *NATS) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if n == nil || n.conn == nil {
		return nil, nats.ErrConnectionClosed
	}
	return n.conn.Subscribe(subject, handler)
}

// QueueSubscribe spreads deliveries over every consumer in the group.
func (n *NATS) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if n == nil || n.conn == nil {
		return nil, nats.ErrConnectionClosed
	}
	return n.conn.QueueSubscribe(subject, queue, handler)
}
