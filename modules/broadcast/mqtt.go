package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/zachfi/scannercast/pkg/broadcaster"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
	mqttQuiesce        = 250 // ms
)

// eventMessage is the JSON body published for a destination event.
type eventMessage struct {
	Destination string    `json:"destination"`
	Event       string    `json:"event"`
	Value       uint64    `json:"value"`
	State       string    `json:"state"`
	From        string    `json:"from,omitempty"`
	Time        time.Time `json:"time"`
}

// publisher sends destination events to an MQTT broker on
// <topic>/<destination>/<event>.
type publisher struct {
	cfg    MQTTConfig
	logger *slog.Logger
	client mqtt.Client
	now    func() time.Time
}

func newPublisher(cfg MQTTConfig, logger *slog.Logger) *publisher {
	if cfg.Topic == "" {
		cfg.Topic = defaultMQTTTopic
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	p := &publisher{
		cfg:    cfg,
		logger: logger.With("broker", cfg.Broker),
		now:    time.Now,
	}
	opts.SetOnConnectHandler(func(mqtt.Client) { p.logger.Info("connected to mqtt broker") })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warn("connection to mqtt broker lost", "err", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// connect waits for the first connection. With connect retry enabled the
// client keeps trying in the background after a timeout.
func (p *publisher) connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection error: %w", err)
	}
	return nil
}

func (p *publisher) topic(e broadcaster.Event) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.Topic, e.Destination.Name(), e.Type)
}

func (p *publisher) message(e broadcaster.Event) eventMessage {
	m := eventMessage{
		Destination: e.Destination.Name(),
		Event:       e.Type.String(),
		Value:       e.Value,
		State:       e.Destination.ConnectionState().String(),
		Time:        p.now(),
	}
	if e.Type == broadcaster.StateChanged {
		m.State = e.Transition.To.String()
		m.From = e.Transition.From.String()
	}
	return m
}

func (p *publisher) publish(e broadcaster.Event) error {
	if !p.client.IsConnected() {
		metricMQTTPublishes.WithLabelValues("not_connected").Inc()
		return errors.New("not connected to mqtt broker")
	}

	payload, err := json.Marshal(p.message(e))
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic(e), 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		metricMQTTPublishes.WithLabelValues("timeout").Inc()
		return errors.New("mqtt publish timeout")
	}
	if err := token.Error(); err != nil {
		metricMQTTPublishes.WithLabelValues("error").Inc()
		return err
	}

	metricMQTTPublishes.WithLabelValues("ok").Inc()
	return nil
}

func (p *publisher) disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(mqttQuiesce)
	}
}
