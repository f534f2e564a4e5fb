package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrNoFix is returned by a device that has no further fix to offer.
var ErrNoFix = errors.New("no gps fix")

// Locator obtains a device GPS reading. Implementations must honour ctx.
type Locator interface {
	Locate(ctx context.Context) (Reading, error)
}

// Fixes replays GPS fixes captured by the client and submitted with a request.
// Each call consumes one fix.
type Fixes struct {
	mu    sync.Mutex
	fixes []Reading
	next  int
}

// NewFixes returns a locator over the supplied fixes.
func NewFixes(fixes ...Reading) *Fixes {
	return &Fixes{fixes: fixes}
}

// Locate returns the next submitted fix.
func (f *Fixes) Locate(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.fixes) {
		return Reading{}, ErrNoFix
	}
	rd := f.fixes[f.next]
	f.next++
	if rd.Latitude < -90 || rd.Latitude > 90 || rd.Longitude < -180 || rd.Longitude > 180 || rd.Accuracy < 0 {
		return Reading{}, fmt.Errorf("invalid fix %.6f,%.6f ±%.0fm", rd.Latitude, rd.Longitude, rd.Accuracy)
	}
	rd.Source = SourceGPS
	if rd.CapturedAt.IsZero() {
		rd.CapturedAt = time.Now().UTC()
	}
	return rd, nil
}

// DefaultTopicPrefix roots every device topic.
const DefaultTopicPrefix = "rollcall"

// LocateRequest is published to a device to ask for a fresh fix.
type LocateRequest struct {
	RequestID    string `json:"request_id"`
	HighAccuracy bool   `json:"high_accuracy"`
	TimeoutMS    int64  `json:"timeout_ms"`
}

// LocationReply is what a device publishes back.
type LocationReply struct {
	RequestID string    `json:"request_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// LocateRequestTopic is where a device listens for locate requests.
func LocateRequestTopic(prefix, deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/locate", prefix, deviceID)
}

// LocationReplyTopic is where a device answers a specific request.
func LocationReplyTopic(prefix, deviceID, requestID string) string {
	return fmt.Sprintf("%s/devices/%s/location/%s", prefix, deviceID, requestID)
}

type mqttClient interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTLocator asks a registered campus device for a GPS fix over MQTT.
type MQTTLocator struct {
	client   mqttClient
	prefix   string
	deviceID string
}

// NewMQTTLocator builds a locator for one device.
func NewMQTTLocator(client mqttClient, prefix, deviceID string) *MQTTLocator {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTLocator{client: client, prefix: prefix, deviceID: deviceID}
}

// Locate publishes a request and waits for the device's reply or ctx expiry.
func (m *MQTTLocator) Locate(ctx context.Context) (Reading, error) {
	reqID := uuid.NewString()
	replyTopic := LocationReplyTopic(m.prefix, m.deviceID, reqID)

	replies := make(chan LocationReply, 1)
	sub := m.client.Subscribe(replyTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var reply LocationReply
		if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
			return
		}
		select {
		case replies <- reply:
		default:
		}
	})
	if err := waitToken(ctx, sub); err != nil {
		return Reading{}, fmt.Errorf("subscribe %s: %w", replyTopic, err)
	}
	defer m.client.Unsubscribe(replyTopic)

	req := LocateRequest{RequestID: reqID, HighAccuracy: true}
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMS = time.Until(deadline).Milliseconds()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Reading{}, fmt.Errorf("encode locate request: %w", err)
	}
	if err := waitToken(ctx, m.client.Publish(LocateRequestTopic(m.prefix, m.deviceID), 1, false, payload)); err != nil {
		return Reading{}, fmt.Errorf("publish locate request: %w", err)
	}

	select {
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	case reply := <-replies:
		if reply.Error != "" {
			return Reading{}, fmt.Errorf("device %s: %s", m.deviceID, reply.Error)
		}
		captured := reply.Timestamp
		if captured.IsZero() {
			captured = time.Now().UTC()
		}
		return Reading{
			Latitude:   reply.Latitude,
			Longitude:  reply.Longitude,
			Accuracy:   reply.Accuracy,
			Source:     SourceGPS,
			CapturedAt: captured,
		}, nil
	}
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
