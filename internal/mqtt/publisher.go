package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/thane-openhab/internal/config"
	"github.com/nugget/thane-openhab/internal/host"
)

// State entities, each published to its own topic.
const (
	entityInstructions    = "instructions"
	entityFunctions       = "functions"
	entityErrors          = "errors"
	entitySoftwareVersion = "software_version"
	entityEnabled         = "enabled"
)

// StateSource provides the state to mirror. It is satisfied by
// *host.Extension.
type StateSource interface {
	State() host.State
	Subscribe() (<-chan host.State, func())
}

// Publisher manages the MQTT connection and republishes host state
// whenever it changes.
type Publisher struct {
	cfg    config.MQTTConfig
	source StateSource
	device DeviceInfo
	logger *slog.Logger

	// cm is set by Start and read by Stop from another goroutine.
	cm atomic.Pointer[autopaho.ConnectionManager]

	mu   sync.Mutex
	last map[string]string // entity → last published payload
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, source StateSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		source: source,
		device: NewDeviceInfo(cfg.DeviceName),
		logger: logger,
		last:   make(map[string]string),
	}
}

// Start connects to the MQTT broker and mirrors state changes. It
// blocks until ctx is cancelled. On every (re-)connect it publishes
// discovery configs, a birth message and the full current state.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.publishState(ctx, cm, p.source.State(), true)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: deviceID(p.cfg.DeviceName),
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm.Store(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes an "offline" availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return nil
	}
	p.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + deviceID(p.cfg.DeviceName) + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()
	id := deviceID(p.cfg.DeviceName)
	return []sensorDef{
		{
			entity: entitySoftwareVersion,
			config: SensorConfig{
				Name:              p.device.Name + " openHAB Version",
				UniqueID:          id + "_" + entitySoftwareVersion,
				StateTopic:        p.stateTopic(entitySoftwareVersion),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:tag",
				EntityCategory:    "diagnostic",
			},
		},
		{
			entity: entityErrors,
			config: SensorConfig{
				Name:              p.device.Name + " Errors",
				UniqueID:          id + "_" + entityErrors,
				StateTopic:        p.stateTopic(entityErrors),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:alert-circle-outline",
				StateClass:        "measurement",
				ValueTemplate:     "{{ value_json | count }}",
				EntityCategory:    "diagnostic",
			},
		},
		{
			entity: entityFunctions,
			config: SensorConfig{
				Name:              p.device.Name + " Active Functions",
				UniqueID:          id + "_" + entityFunctions,
				StateTopic:        p.stateTopic(entityFunctions),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:function-variant",
				StateClass:        "measurement",
				ValueTemplate:     "{{ value_json | count }}",
			},
		},
		{
			entity: entityEnabled,
			config: SensorConfig{
				Name:              p.device.Name + " Enabled",
				UniqueID:          id + "_" + entityEnabled,
				StateTopic:        p.stateTopic(entityEnabled),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:power",
				EntityCategory:    "diagnostic",
			},
		},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	if p.cfg.DiscoveryPrefix == "" {
		return
	}
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entity, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entity, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entity, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- State mirror ---

func (p *Publisher) runLoop(ctx context.Context) {
	cm := p.cm.Load()
	updates, unsubscribe := p.source.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			p.publishState(ctx, cm, st, false)
		}
	}
}

// publishState publishes the entities whose payload differs from the
// last successful publish, or all of them when force is set.
func (p *Publisher) publishState(ctx context.Context, cm *autopaho.ConnectionManager, st host.State, force bool) {
	payloads, err := statePayloads(st)
	if err != nil {
		p.logger.Error("mqtt marshal state payload", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	changed := p.changedLocked(payloads, force)
	for _, entity := range changed {
		value := payloads[entity]
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
			continue
		}
		p.last[entity] = value
	}

	if len(changed) > 0 {
		p.logger.Debug("mqtt state published", "entities", len(changed))
	}
}

// changedLocked returns the entities to publish, sorted. p.mu must be
// held.
func (p *Publisher) changedLocked(payloads map[string]string, force bool) []string {
	var out []string
	for entity, value := range payloads {
		if prev, ok := p.last[entity]; force || !ok || prev != value {
			out = append(out, entity)
		}
	}
	sort.Strings(out)
	return out
}

// statePayloads renders each entity's payload.
func statePayloads(st host.State) (map[string]string, error) {
	functions, err := json.Marshal(st.Functions)
	if err != nil {
		return nil, fmt.Errorf("marshal functions: %w", err)
	}
	errs := st.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshal errors: %w", err)
	}

	enabled := "OFF"
	if st.Enabled {
		enabled = "ON"
	}

	return map[string]string{
		entityInstructions:    st.Instructions,
		entityFunctions:       string(functions),
		entityErrors:          string(errorsJSON),
		entitySoftwareVersion: st.SoftwareVersion,
		entityEnabled:         enabled,
	}, nil
}
