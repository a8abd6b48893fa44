package inventory

import (
	"reflect"
	"testing"

	"github.com/nugget/thane-openhab/internal/openhab"
)

func ptr(s string) *string { return &s }

func sampleItems() []openhab.Item {
	return []openhab.Item{
		{Name: "GroundFloor", Label: "Ground floor", Type: "Group", Tags: []string{"Location", "GroundFloor"}},
		{Name: "Kitchen", Label: "Kitchen", Type: "Group", Tags: []string{"Location"}, GroupNames: []string{"GroundFloor"}},
		{Name: "Kitchen_Light", Label: "Ceiling light", Type: "Switch", Tags: []string{"Equipment"}, GroupNames: []string{"Kitchen", "Lights"}, State: "ON"},
		{Name: "Kitchen_Shutter", Label: "Window shutter", Type: "Rollershutter", Tags: []string{"Equipment"}, GroupNames: []string{"Kitchen"}, State: "100"},
		{Name: "Kitchen_Temp", Label: "Temperature", Type: "Number:Temperature", Tags: []string{"Measurement"}, GroupNames: []string{"Kitchen"}, State: "21.5 °C"},
		{Name: "Lights", Label: "All lights", Type: "Group", Tags: []string{"Equipment"}},
	}
}

func TestClassify_Sample(t *testing.T) {
	got := Classify(sampleItems())

	want := Snapshot{
		Locations: []Location{
			{ID: "GroundFloor", Name: "Ground floor", LocationID: nil},
			{ID: "Kitchen", Name: "Kitchen", LocationID: ptr("GroundFloor")},
		},
		Switchs: []Switch{
			{ID: "Kitchen_Light", Name: "Ceiling light", State: "on", LocationID: ptr("Kitchen")},
		},
		Shutters: []Shutter{
			{ID: "Kitchen_Shutter", Name: "Window shutter", State: "closed", LocationID: ptr("Kitchen")},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Classify() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestClassify_SwitchExample(t *testing.T) {
	snap := Classify([]openhab.Item{
		{Name: "id1", Type: "Switch", Tags: []string{"Equipment"}, State: "ON", GroupNames: []string{"Kitchen"}},
	})
	if len(snap.Switchs) != 1 {
		t.Fatalf("expected 1 switch, got %d", len(snap.Switchs))
	}
	sw := snap.Switchs[0]
	if sw.State != "on" {
		t.Errorf("state = %q, want on", sw.State)
	}
	if sw.LocationID == nil || *sw.LocationID != "Kitchen" {
		t.Errorf("location_id = %v, want Kitchen", sw.LocationID)
	}
}

func TestClassify_ShutterState(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"0", "opened"},
		{"100", "closed"},
		{"42", "closed"},
		{"NULL", "closed"},
		{"", "closed"},
	}
	for _, tt := range tests {
		snap := Classify([]openhab.Item{
			{Name: "s", Type: "Rollershutter", Tags: []string{"Equipment"}, State: tt.raw},
		})
		if len(snap.Shutters) != 1 {
			t.Fatalf("raw %q: expected 1 shutter, got %d", tt.raw, len(snap.Shutters))
		}
		if got := snap.Shutters[0].State; got != tt.want {
			t.Errorf("raw %q: state = %q, want %q", tt.raw, got, tt.want)
		}
		if snap.Shutters[0].LocationID != nil {
			t.Errorf("raw %q: location_id = %v, want nil", tt.raw, *snap.Shutters[0].LocationID)
		}
	}
}

func TestClassify_SwitchStatePassthrough(t *testing.T) {
	snap := Classify([]openhab.Item{
		{Name: "a", Type: "Switch", Tags: []string{"Equipment"}, State: "OFF"},
		{Name: "b", Type: "Switch", Tags: []string{"Equipment"}, State: "UNDEF"},
	})
	if snap.Switchs[0].State != "off" || snap.Switchs[1].State != "undef" {
		t.Errorf("states = %q, %q", snap.Switchs[0].State, snap.Switchs[1].State)
	}
}

func TestClassify_DropsUnrecognised(t *testing.T) {
	snap := Classify([]openhab.Item{
		{Name: "untagged", Type: "Switch", State: "ON"},
		{Name: "dimmer", Type: "Dimmer", Tags: []string{"Equipment"}, State: "50"},
		{Name: "plain_group", Type: "Group"},
		{Name: "lowercase_tag", Type: "Switch", Tags: []string{"equipment"}},
	})
	if len(snap.Locations)+len(snap.Switchs)+len(snap.Shutters) != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
	if snap.Locations == nil || snap.Switchs == nil || snap.Shutters == nil {
		t.Error("snapshot slices must be non-nil")
	}
}

func TestClassify_DanglingLocationKept(t *testing.T) {
	snap := Classify([]openhab.Item{
		{Name: "Attic_Fan", Type: "Switch", Tags: []string{"Equipment"}, GroupNames: []string{"Attic"}, State: "OFF"},
	})
	if got := snap.Switchs[0].LocationID; got == nil || *got != "Attic" {
		t.Errorf("location_id = %v, want Attic even though no Attic location exists", got)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	items := sampleItems()
	first := Classify(items)
	second := Classify(items)
	if !reflect.DeepEqual(first, second) {
		t.Error("Classify is not deterministic for the same input")
	}
}

func TestClassify_LocationIDNotAliased(t *testing.T) {
	items := []openhab.Item{
		{Name: "sw", Type: "Switch", Tags: []string{"Equipment"}, GroupNames: []string{"Kitchen"}},
	}
	snap := Classify(items)
	items[0].GroupNames[0] = "Garage"
	if *snap.Switchs[0].LocationID != "Kitchen" {
		t.Error("snapshot shares memory with the input item")
	}
}

func TestSnapshot_HasDevices(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{"empty", Snapshot{}, false},
		{"locations only", Snapshot{Locations: []Location{{ID: "Kitchen"}}}, false},
		{"switch", Snapshot{Switchs: []Switch{{ID: "a"}}}, true},
		{"shutter", Snapshot{Shutters: []Shutter{{ID: "b"}}}, true},
	}
	for _, tt := range tests {
		if got := tt.snap.HasDevices(); got != tt.want {
			t.Errorf("%s: HasDevices() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
