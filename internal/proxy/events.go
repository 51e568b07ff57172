package proxy

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/adapter/queue"
)

// Queue subjects for session lifecycle and injection events.
const (
	SubjectChargerConnected    = "charger.connected"
	SubjectChargerDisconnected = "charger.disconnected"
	SubjectChargerInjection    = "charger.injection"
)

// Broadcaster pushes an event to connected dashboard clients.
type Broadcaster interface {
	Broadcast(message []byte)
}

// Events fans session lifecycle and injection notifications out to the
// message queue and the dashboard hub. Both sinks are optional and failures
// never propagate into the mediator.
type Events struct {
	mq  queue.MessageQueue
	hub Broadcaster
	log *zap.Logger
}

func NewEvents(mq queue.MessageQueue, hub Broadcaster, log *zap.Logger) *Events {
	return &Events{mq: mq, hub: hub, log: log}
}

type sessionEvent struct {
	Type          string `json:"type"`
	ChargePointID string `json:"charge_point_id"`
	Action        string `json:"action,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func (e *Events) ChargerConnected(chargePointID string) {
	e.publish(SubjectChargerConnected, sessionEvent{
		Type:          "connected",
		ChargePointID: chargePointID,
		Timestamp:     time.Now().Unix(),
	})
}

func (e *Events) ChargerDisconnected(chargePointID string) {
	e.publish(SubjectChargerDisconnected, sessionEvent{
		Type:          "disconnected",
		ChargePointID: chargePointID,
		Timestamp:     time.Now().Unix(),
	})
}

func (e *Events) Injection(chargePointID, action, messageID string) {
	e.publish(SubjectChargerInjection, sessionEvent{
		Type:          "injection",
		ChargePointID: chargePointID,
		Action:        action,
		MessageID:     messageID,
		Timestamp:     time.Now().Unix(),
	})
}

func (e *Events) publish(subject string, event sessionEvent) {
	if e == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if e.mq != nil {
		if err := e.mq.Publish(subject, data); err != nil {
			e.log.Warn("Failed to publish event", zap.String("subject", subject), zap.Error(err))
		}
	}
	if e.hub != nil {
		e.hub.Broadcast(data)
	}
}
