// Package monitor drives captures over MQTT, so a home-automation system or
// a scripted trigger can take stills and record clips without touching the
// desktop window or the web console.
package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mjpeg-studio/studio/internal/config"
	"github.com/mjpeg-studio/studio/internal/iputils"
	"github.com/mjpeg-studio/studio/internal/logging"
	"github.com/mjpeg-studio/studio/internal/session"
	"github.com/mjpeg-studio/studio/internal/urlstore"
)

const (
	topicSnapshot = "studio/capture/snapshot"
	topicRecord   = "studio/capture/record"
	topicCancel   = "studio/capture/cancel"
)

// captureRequest is the JSON payload accepted on the capture topics. Both
// fields are optional: the URL falls back to the most recently used library
// entry, the duration to the first configured clip length.
type captureRequest struct {
	URL     string `json:"url"`
	Seconds int    `json:"seconds"`
}

var mqttClient mqtt.Client

// Start connects to the configured broker and subscribes to the capture
// topics. An empty broker address leaves remote control disabled.
func Start(cfg *config.Config, ctrl *session.Controller, library *urlstore.Store) {
	broker := strings.TrimSpace(cfg.MQTT.Broker)
	if broker == "" {
		logging.InfoLogger.Println("MQTT remote control disabled (no broker configured)")
		return
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	defaultSeconds := 10
	if len(cfg.Capture.Durations) > 0 {
		defaultSeconds = cfg.Capture.Durations[0]
	}

	opts := mqtt.NewClientOptions().AddBroker(broker)
	opts.SetClientID(clientID())
	opts.SetDefaultPublishHandler(messageHandler(ctrl, library, defaultSeconds))
	opts.SetResumeSubs(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(subscribeAll)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.WarningLogger.Printf("MQTT connection lost: %v", err)
	})

	mqttClient = mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logging.ErrorLogger.Printf("Failed to connect to MQTT broker %s: %v", broker, token.Error())
		return
	}
	logging.InfoLogger.Printf("MQTT remote control connected to %s", broker)
}

// Stop disconnects from the broker.
func Stop() {
	if mqttClient != nil && mqttClient.IsConnected() {
		mqttClient.Disconnect(250)
	}
}

// subscribeAll runs on every (re)connect so subscriptions survive broker
// restarts.
func subscribeAll(client mqtt.Client) {
	for _, topic := range []string{topicSnapshot, topicRecord, topicCancel} {
		logging.InfoLogger.Printf("Subscribing to topic %s", topic)
		if token := client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
			logging.ErrorLogger.Printf("Failed to subscribe to topic %s: %v", topic, token.Error())
		}
	}
}

func clientID() string {
	if ip, err := iputils.PrimaryIPv4(); err == nil {
		return fmt.Sprintf("studio-%s", ip)
	}
	if host, err := os.Hostname(); err == nil {
		return fmt.Sprintf("studio-%s", host)
	}
	return "studio"
}

func messageHandler(ctrl *session.Controller, library *urlstore.Store, defaultSeconds int) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := strings.TrimSpace(string(msg.Payload()))
		logging.Trace("MQTT message on %s: %s", msg.Topic(), payload)

		switch msg.Topic() {
		case topicSnapshot:
			req := parseRequest(payload)
			if err := ctrl.Snapshot(resolveURL(library, req.URL)); err != nil {
				logging.ErrorLogger.Printf("Remote snapshot rejected: %v", err)
			}
		case topicRecord:
			req := parseRequest(payload)
			if req.Seconds == 0 {
				req.Seconds = defaultSeconds
			}
			if _, err := ctrl.StartRecording(resolveURL(library, req.URL), req.Seconds); err != nil {
				logging.ErrorLogger.Printf("Remote record rejected: %v", err)
			}
		case topicCancel:
			if err := ctrl.CancelRecording(); err != nil {
				logging.ErrorLogger.Printf("Remote cancel rejected: %v", err)
			}
		}
	}
}

// parseRequest accepts a JSON object or the shorthand payloads: a bare
// number of seconds, or a bare stream URL. An empty payload means
// "all defaults".
func parseRequest(payload string) captureRequest {
	var req captureRequest
	if payload == "" {
		return req
	}
	if strings.HasPrefix(payload, "{") {
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			logging.WarningLogger.Printf("Ignoring malformed capture request: %v", err)
		}
		return req
	}
	if secs, err := strconv.Atoi(payload); err == nil {
		req.Seconds = secs
		return req
	}
	req.URL = payload
	return req
}

// resolveURL falls back to the most recently used library entry when the
// request names no stream.
func resolveURL(library *urlstore.Store, raw string) string {
	if raw != "" {
		return raw
	}
	if entry, ok := library.MostRecent(); ok {
		return entry.URL
	}
	return ""
}
