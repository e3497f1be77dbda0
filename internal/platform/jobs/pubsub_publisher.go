package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/merchantdesk/api/internal/services"
)

// PubSubEventPublisher publishes sync lifecycle events to a Pub/Sub topic.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.SyncEventPublisher = (*PubSubEventPublisher)(nil)

// NewPubSubEventPublisher constructs a Pub/Sub backed sync event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishSyncEvent enqueues one sync event message on the configured topic.
func (p *PubSubEventPublisher) PublishSyncEvent(ctx context.Context, event services.SyncEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(newSyncEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "actor", event.Actor)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// syncEventMessage is the wire shape consumers subscribe to. It is decoupled
// from the service DTO so internal renames never break subscribers.
type syncEventMessage struct {
	Type       string            `json:"type"`
	Actor      string            `json:"actor"`
	OccurredAt time.Time         `json:"occurredAt"`
	Report     syncReportMessage `json:"report"`
}

type syncReportMessage struct {
	NewOrders                   int       `json:"newOrders"`
	UpdatedOrders               int       `json:"updatedOrders"`
	OrdersWithUnidentifiedItems int       `json:"ordersWithUnidentifiedItems"`
	NewClients                  int       `json:"newClients"`
	UpdatedClients              int       `json:"updatedClients"`
	Failed                      int       `json:"failed"`
	StartedAt                   time.Time `json:"startedAt"`
	FinishedAt                  time.Time `json:"finishedAt"`
}

func newSyncEventMessage(event services.SyncEvent) syncEventMessage {
	return syncEventMessage{
		Type:       event.Type,
		Actor:      event.Actor,
		OccurredAt: event.OccurredAt,
		Report: syncReportMessage{
			NewOrders:                   event.Report.NewOrders,
			UpdatedOrders:               event.Report.UpdatedOrders,
			OrdersWithUnidentifiedItems: event.Report.OrdersWithUnidentifiedItems,
			NewClients:                  event.Report.NewClients,
			UpdatedClients:              event.Report.UpdatedClients,
			Failed:                      event.Report.Failed,
			StartedAt:                   event.Report.StartedAt,
			FinishedAt:                  event.Report.FinishedAt,
		},
	}
}
