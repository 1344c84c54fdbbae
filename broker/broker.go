package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/a-bouts/geo-anchor/api/model"
	"github.com/a-bouts/geo-anchor/tracking"
)

var ErrNotConfigured = errors.New("missing mqtt broker")

type Config struct {
	Broker   string
	Prefix   string
	ClientID string
}

// Broker feeds pose events published by headsets on
// <prefix>/<session>/anchor and <prefix>/<session>/device into the store,
// and publishes every fix on <prefix>/<session>/fix.
type Broker struct {
	cfg    Config
	store  *tracking.Store
	client mqtt.Client
}

func New(cfg Config, store *tracking.Store) *Broker {
	if cfg.Prefix == "" {
		cfg.Prefix = "geo"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "geo-anchor"
	}
	return &Broker{cfg: cfg, store: store}
}

func (b *Broker) Connect() error {
	if b.cfg.Broker == "" {
		return ErrNotConfigured
	}

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			if err := b.subscribe(c); err != nil {
				log.WithError(err).Error("Error subscribing to pose topics")
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("Lost connection to mqtt broker")
		})

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, token.Error())
	}

	log.Infof("Connected to mqtt broker at %s", b.cfg.Broker)
	return nil
}

func (b *Broker) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

func (b *Broker) subscribe(c mqtt.Client) error {
	filters := map[string]byte{
		b.cfg.Prefix + "/+/" + model.EventAnchor: 0,
		b.cfg.Prefix + "/+/" + model.EventDevice: 0,
	}

	token := c.SubscribeMultiple(filters, func(c mqtt.Client, msg mqtt.Message) {
		topic, payload, ok := b.handle(msg.Topic(), msg.Payload())
		if !ok {
			return
		}
		c.Publish(topic, 0, false, payload)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}

	log.Debugf("Subscribed to %s/+/%s and %s/+/%s", b.cfg.Prefix, model.EventAnchor, b.cfg.Prefix, model.EventDevice)
	return nil
}

// parseTopic splits <prefix>/<session>/<kind>.
func (b *Broker) parseTopic(topic string) (id string, kind string, ok bool) {
	rest := strings.TrimPrefix(topic, b.cfg.Prefix+"/")
	if rest == topic {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// handle applies one inbound message and returns what to publish, if
// anything.
func (b *Broker) handle(topic string, payload []byte) (string, []byte, bool) {
	id, kind, ok := b.parseTopic(topic)
	if !ok {
		log.Warnf("Ignoring message on '%s'", topic)
		return "", nil, false
	}

	logger := log.WithField("session", id)

	var p model.Pose
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.WithError(err).Warnf("Bad %s pose", kind)
		return "", nil, false
	}

	e := model.Event{Type: kind, Pose: p}
	m := e.Apply(b.store.GetOrCreate(id))

	switch m.Type {
	case model.MessageFix:
		data, err := json.Marshal(m.Fix)
		if err != nil {
			logger.WithError(err).Error("Error encoding fix")
			return "", nil, false
		}
		return b.cfg.Prefix + "/" + id + "/fix", data, true
	case model.MessageError:
		logger.Warnf("Rejected %s pose : %s", kind, m.Error)
	}
	return "", nil, false
}
