// Command devicesim pretends to be a classroom device: it answers locate
// requests over MQTT with jittered GPS fixes around a fixed point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"rollcall/internal/geo"
)

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	deviceID := flag.String("device-id", "lt-1", "Device identifier")
	prefix := flag.String("prefix", geo.DefaultTopicPrefix, "Topic prefix")
	lat := flag.Float64("lat", 6.5244, "Latitude of the device")
	lon := flag.Float64("lon", 3.3792, "Longitude of the device")
	accuracy := flag.Float64("accuracy", 12, "Reported accuracy in meters")
	jitter := flag.Float64("jitter", 15, "Maximum random offset applied to each fix, in meters")
	delay := flag.Duration("delay", 300*time.Millisecond, "Simulated time to acquire a fix")
	failRate := flag.Float64("fail-rate", 0, "Fraction of requests answered with an error")

	flag.Parse()

	clientID := fmt.Sprintf("%s-simulator-%d", *deviceID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	topic := geo.LocateRequestTopic(*prefix, *deviceID)
	token := client.Subscribe(topic, 1, func(c mqtt.Client, msg mqtt.Message) {
		var req geo.LocateRequest
		if err := json.Unmarshal(msg.Payload(), &req); err != nil || req.RequestID == "" {
			log.Printf("ignoring malformed request on %s", msg.Topic())
			return
		}
		time.Sleep(*delay)

		reply := geo.LocationReply{RequestID: req.RequestID, Timestamp: time.Now().UTC()}
		if rand.Float64() < *failRate {
			reply.Error = "gps timeout"
		} else {
			reply.Latitude, reply.Longitude = offset(*lat, *lon, *jitter)
			reply.Accuracy = *accuracy
		}
		data, err := json.Marshal(reply)
		if err != nil {
			log.Printf("failed to encode reply: %v", err)
			return
		}
		out := geo.LocationReplyTopic(*prefix, *deviceID, req.RequestID)
		t := c.Publish(out, 1, false, data)
		t.Wait()
		if err := t.Error(); err != nil {
			log.Printf("publish error: %v", err)
			return
		}
		log.Printf("answered %s lat=%.6f lon=%.6f err=%q", req.RequestID, reply.Latitude, reply.Longitude, reply.Error)
	})
	if token.Wait() && token.Error() != nil {
		log.Fatalf("subscribe %s: %v", topic, token.Error())
	}
	log.Printf("listening on %s", topic)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Print("received shutdown signal, disconnecting")
	client.Disconnect(250)
}

// offset moves a point by up to maxM meters in a random direction.
func offset(lat, lon, maxM float64) (float64, float64) {
	if maxM <= 0 {
		return lat, lon
	}
	d := rand.Float64() * maxM
	bearing := rand.Float64() * 2 * math.Pi
	dLat := d * math.Cos(bearing) / 111320
	dLon := d * math.Sin(bearing) / (111320 * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}
