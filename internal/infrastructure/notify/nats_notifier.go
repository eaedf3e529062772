// Package notify publishes notifications for the external notification
// service over NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/studioflow/backend/internal/domain/ports"
)

// NATSNotifier publishes notification messages to NATS for consumption by the
// platform's notification service.
//
// Subject convention: <subjectPrefix>.<kind>, e.g. notifications.ops.email.
//
// Publish failures are logged and swallowed: a notification outage must never
// interrupt an approval decision or a trigger sweep.
type NATSNotifier struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSNotifier connects to the given NATS URL. An empty URL disables the
// notifier; Notify becomes a no-op.
func NewNATSNotifier(url, subjectPrefix string) (*NATSNotifier, error) {
	if url == "" {
		log.Printf("⚠️ NATS disabled: no URL configured, notifications will be dropped")
		return &NATSNotifier{subjectPrefix: subjectPrefix}, nil
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("🔄 NATS reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	log.Printf("✅ NATS connected: %s", url)
	return &NATSNotifier{conn: conn, subjectPrefix: subjectPrefix}, nil
}

// Notify publishes the notification. Errors are logged, never returned.
func (n *NATSNotifier) Notify(_ context.Context, notification ports.Notification) error {
	if n.conn == nil {
		return nil
	}

	data, err := json.Marshal(notification)
	if err != nil {
		log.Printf("⚠️ NOTIFY MARSHAL FAILED: kind=%s recipient=%s error=%v",
			notification.Kind, notification.Recipient, err)
		return nil
	}

	subject := fmt.Sprintf("%s.%s", n.subjectPrefix, notification.Kind)
	if err := n.conn.Publish(subject, data); err != nil {
		log.Printf("⚠️ NOTIFY PUBLISH FAILED: subject=%s entity=%s error=%v",
			subject, notification.EntityID, err)
		return nil
	}

	log.Printf("📤 NOTIFY PUBLISHED: subject=%s recipient=%s event=%s",
		subject, notification.Recipient, notification.EventType)
	return nil
}

// Close drains the NATS connection
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
