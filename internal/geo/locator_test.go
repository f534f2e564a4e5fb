package geo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func TestFixesConsumesInOrder(t *testing.T) {
	f := NewFixes(
		Reading{Latitude: 1, Longitude: 2, Accuracy: 30},
		Reading{Latitude: 91, Longitude: 2, Accuracy: 30},
	)
	ctx := context.Background()

	rd, err := f.Locate(ctx)
	if err != nil || rd.Latitude != 1 || rd.Source != SourceGPS || rd.CapturedAt.IsZero() {
		t.Fatalf("first fix: %+v %v", rd, err)
	}
	if _, err := f.Locate(ctx); err == nil || errors.Is(err, ErrNoFix) {
		t.Fatalf("expected invalid fix error, got %v", err)
	}
	if _, err := f.Locate(ctx); !errors.Is(err, ErrNoFix) {
		t.Fatalf("expected ErrNoFix, got %v", err)
	}
}

type doneToken struct {
	err error
}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (d doneToken) Error() error { return d.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (fakeMessage) Duplicate() bool     { return false }
func (fakeMessage) Qos() byte           { return 1 }
func (fakeMessage) Retained() bool      { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (fakeMessage) MessageID() uint16   { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (fakeMessage) Ack()                {}

// fakeBroker answers locate requests the way a campus device would.
type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	reply    func(req LocateRequest) *LocationReply
	unsubbed []string
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string]mqtt.MessageHandler{}
	}
	b.handlers[topic] = cb
	return doneToken{}
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubbed = append(b.unsubbed, topics...)
	return doneToken{}
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	var req LocateRequest
	if err := json.Unmarshal(payload.([]byte), &req); err != nil {
		return doneToken{err: err}
	}
	reply := b.reply(req)
	if reply == nil {
		return doneToken{}
	}
	deviceID := strings.Split(topic, "/")[2]
	replyTopic := LocationReplyTopic(DefaultTopicPrefix, deviceID, req.RequestID)
	body, _ := json.Marshal(reply)

	b.mu.Lock()
	cb := b.handlers[replyTopic]
	b.mu.Unlock()
	if cb != nil {
		go cb(nil, fakeMessage{topic: replyTopic, payload: body})
	}
	return doneToken{}
}

func TestMQTTLocatorReceivesReply(t *testing.T) {
	broker := &fakeBroker{reply: func(req LocateRequest) *LocationReply {
		if !req.HighAccuracy || req.TimeoutMS <= 0 {
			return &LocationReply{Error: "bad request"}
		}
		return &LocationReply{RequestID: req.RequestID, Latitude: 6.5244, Longitude: 3.3792, Accuracy: 8}
	}}
	loc := NewMQTTLocator(broker, "", "lt-101")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rd, err := loc.Locate(ctx)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if rd.Latitude != 6.5244 || rd.Accuracy != 8 || rd.Source != SourceGPS {
		t.Fatalf("unexpected reading: %+v", rd)
	}
	if len(broker.unsubbed) != 1 || !strings.HasPrefix(broker.unsubbed[0], "rollcall/devices/lt-101/location/") {
		t.Fatalf("reply topic not released: %v", broker.unsubbed)
	}
}

func TestMQTTLocatorDeviceError(t *testing.T) {
	broker := &fakeBroker{reply: func(req LocateRequest) *LocationReply {
		return &LocationReply{RequestID: req.RequestID, Error: "gps disabled"}
	}}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewMQTTLocator(broker, "", "lt-101").Locate(ctx); err == nil || !strings.Contains(err.Error(), "gps disabled") {
		t.Fatalf("err = %v", err)
	}
}

func TestMQTTLocatorTimesOut(t *testing.T) {
	broker := &fakeBroker{reply: func(LocateRequest) *LocationReply { return nil }}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := NewMQTTLocator(broker, "", "lt-101").Locate(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
