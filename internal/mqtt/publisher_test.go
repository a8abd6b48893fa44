package mqtt

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/thane-openhab/internal/buildinfo"
	"github.com/nugget/thane-openhab/internal/config"
	"github.com/nugget/thane-openhab/internal/host"
	"github.com/nugget/thane-openhab/internal/tools"
)

func testPublisher(discovery string) *Publisher {
	return New(config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		DeviceName:      "house",
		TopicPrefix:     "thane-openhab",
		DiscoveryPrefix: discovery,
	}, host.New(host.Manifest{Name: "OpenHAB"}, true, nil), nil)
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("house")
	if info.Name != "house" {
		t.Errorf("Name = %q, want %q", info.Name, "house")
	}
	want := buildinfo.Name + "_house"
	if len(info.Identifiers) != 1 || info.Identifiers[0] != want {
		t.Errorf("Identifiers = %v, want [%s]", info.Identifiers, want)
	}
	if info.SWVersion != buildinfo.Version {
		t.Errorf("SWVersion = %q, want %q", info.SWVersion, buildinfo.Version)
	}
}

func TestPublisher_Topics(t *testing.T) {
	p := testPublisher("homeassistant")

	tests := []struct {
		got, want string
	}{
		{p.baseTopic(), "thane-openhab/house"},
		{p.availabilityTopic(), "thane-openhab/house/availability"},
		{p.stateTopic(entityInstructions), "thane-openhab/house/instructions"},
		{p.discoveryTopic("sensor", entityErrors), "homeassistant/sensor/" + buildinfo.Name + "_house/errors/config"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	p := testPublisher("homeassistant")
	defs := p.sensorDefinitions()

	seen := make(map[string]bool)
	for _, d := range defs {
		if seen[d.config.UniqueID] {
			t.Errorf("duplicate unique_id %q", d.config.UniqueID)
		}
		seen[d.config.UniqueID] = true

		if d.config.StateTopic != p.stateTopic(d.entity) {
			t.Errorf("%s: state_topic = %q", d.entity, d.config.StateTopic)
		}
		if d.config.AvailabilityTopic != p.availabilityTopic() {
			t.Errorf("%s: availability_topic = %q", d.entity, d.config.AvailabilityTopic)
		}

		data, err := json.Marshal(d.config)
		if err != nil {
			t.Fatalf("marshal %s: %v", d.entity, err)
		}
		if !strings.Contains(string(data), `"device":{"identifiers"`) {
			t.Errorf("%s: payload missing device block: %s", d.entity, data)
		}
	}
	if len(defs) != 4 {
		t.Errorf("got %d sensors, want 4", len(defs))
	}
}

func TestStatePayloads(t *testing.T) {
	st := host.State{
		Enabled:         true,
		Instructions:    "text",
		Functions:       []tools.Schema{{Name: "update_switchs"}},
		Errors:          nil,
		SoftwareVersion: "6.1.0",
	}

	got, err := statePayloads(st)
	if err != nil {
		t.Fatalf("statePayloads: %v", err)
	}

	if got[entityInstructions] != "text" {
		t.Errorf("instructions = %q", got[entityInstructions])
	}
	if got[entityErrors] != "[]" {
		t.Errorf("errors = %q, want []", got[entityErrors])
	}
	if got[entityEnabled] != "ON" {
		t.Errorf("enabled = %q", got[entityEnabled])
	}
	if got[entitySoftwareVersion] != "6.1.0" {
		t.Errorf("software_version = %q", got[entitySoftwareVersion])
	}

	var fns []tools.Schema
	if err := json.Unmarshal([]byte(got[entityFunctions]), &fns); err != nil {
		t.Fatalf("functions payload: %v", err)
	}
	if len(fns) != 1 || fns[0].Name != "update_switchs" {
		t.Errorf("functions = %+v", fns)
	}
}

func TestPublisher_ChangedLocked(t *testing.T) {
	p := testPublisher("")
	payloads := map[string]string{"a": "1", "b": "2"}

	if got := p.changedLocked(payloads, false); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("first publish = %v, want all", got)
	}

	p.last["a"] = "1"
	p.last["b"] = "2"
	if got := p.changedLocked(payloads, false); len(got) != 0 {
		t.Errorf("unchanged = %v, want none", got)
	}

	payloads["b"] = "3"
	if got := p.changedLocked(payloads, false); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("changed = %v, want [b]", got)
	}

	if got := p.changedLocked(payloads, true); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("forced = %v, want all", got)
	}
}

func TestPublisher_StopWithoutStart(t *testing.T) {
	p := testPublisher("")
	if err := p.Stop(t.Context()); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}

func TestPublisher_StopConcurrentWithConnect(t *testing.T) {
	p := testPublisher("")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 100 {
			// Start publishes the connection manager from its own goroutine.
			p.cm.Store(nil)
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			if err := p.Stop(t.Context()); err != nil {
				t.Errorf("Stop() = %v, want nil", err)
				return
			}
		}
	}()
	wg.Wait()
}
