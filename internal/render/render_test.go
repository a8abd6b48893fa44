package render

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/nugget/thane-openhab/internal/inventory"
	"github.com/nugget/thane-openhab/internal/tools"
)

func testFunctions() Functions {
	return Functions{
		Switches: tools.Schema{Name: "update_switchs"},
		Shutters: tools.Schema{Name: "update_shutters"},
	}
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New(testFunctions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func ptr(s string) *string { return &s }

func fullSnapshot() inventory.Snapshot {
	return inventory.Snapshot{
		Locations: []inventory.Location{
			{ID: "GroundFloor", Name: "Ground floor"},
			{ID: "Kitchen", Name: "Kitchen", LocationID: ptr("GroundFloor")},
		},
		Switchs: []inventory.Switch{
			{ID: "Kitchen_Light", Name: "Ceiling light", State: "on", LocationID: ptr("Kitchen")},
		},
		Shutters: []inventory.Shutter{
			{ID: "Kitchen_Shutter", Name: "Window shutter", State: "closed"},
		},
	}
}

func schemaNames(schemas []tools.Schema) []string {
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	return names
}

func TestRender_EmptySystem(t *testing.T) {
	r := newTestRenderer(t)

	snaps := map[string]inventory.Snapshot{
		"nothing": {},
		"locations only": {
			Locations: []inventory.Location{{ID: "Kitchen", Name: "Kitchen"}},
		},
	}
	want := Preamble + "\n" + NoDevices

	for name, snap := range snaps {
		t.Run(name, func(t *testing.T) {
			res, err := r.Render(snap)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if res.Instructions != want {
				t.Errorf("Instructions =\n%q\nwant\n%q", res.Instructions, want)
			}
			if res.Functions == nil || len(res.Functions) != 0 {
				t.Errorf("Functions = %v, want empty non-nil", res.Functions)
			}
		})
	}
}

func TestRender_SchemaActivation(t *testing.T) {
	r := newTestRenderer(t)
	sw := []inventory.Switch{{ID: "a", State: "on"}}
	sh := []inventory.Shutter{{ID: "b", State: "opened"}}

	tests := []struct {
		name string
		snap inventory.Snapshot
		want []string
	}{
		{"switches only", inventory.Snapshot{Switchs: sw}, []string{"update_switchs"}},
		{"shutters only", inventory.Snapshot{Shutters: sh}, []string{"update_shutters"}},
		{"both", inventory.Snapshot{Switchs: sw, Shutters: sh}, []string{"update_switchs", "update_shutters"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Render(tt.snap)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			got := schemaNames(res.Functions)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("active schemas = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRender_Deterministic(t *testing.T) {
	r := newTestRenderer(t)
	first, err := r.Render(fullSnapshot())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := r.Render(fullSnapshot())
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		if again.Instructions != first.Instructions {
			t.Fatalf("render %d differs:\n%s\n---\n%s", i, again.Instructions, first.Instructions)
		}
	}

	// A second renderer built from the same descriptors agrees.
	other := newTestRenderer(t)
	res, err := other.Render(fullSnapshot())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Instructions != first.Instructions {
		t.Error("renderers disagree on identical input")
	}
}

func TestRender_Layout(t *testing.T) {
	r := newTestRenderer(t)
	res, err := r.Render(fullSnapshot())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := res.Instructions

	if !strings.HasPrefix(text, Preamble+"\n"+fenceOpen+"\n") {
		t.Errorf("text does not open with preamble and fence:\n%s", text)
	}
	if !strings.HasSuffix(text, "\n"+fenceClose) {
		t.Errorf("text does not end with closing fence:\n%s", text)
	}

	keys := []string{"locationsModel:", "switchsModel:", "shuttersModel:", "\nlocations:", "\nswitchs:", "\nshutters:"}
	last := -1
	for _, k := range keys {
		idx := strings.Index(text, k)
		if idx < 0 {
			t.Fatalf("missing key %q in:\n%s", k, text)
		}
		if idx <= last {
			t.Errorf("key %q out of order", k)
		}
		last = idx
	}
}

func TestRender_BlockRoundTrips(t *testing.T) {
	r := newTestRenderer(t)
	res, err := r.Render(fullSnapshot())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	body := strings.TrimPrefix(res.Instructions, Preamble+"\n"+fenceOpen+"\n")
	body = strings.TrimSuffix(body, "\n"+fenceClose)

	var got struct {
		SwitchsModel struct {
			Type       string         `yaml:"type"`
			Properties map[string]any `yaml:"properties"`
		} `yaml:"switchsModel"`
		Locations []inventory.Location `yaml:"locations"`
		Switchs   []inventory.Switch   `yaml:"switchs"`
		Shutters  []inventory.Shutter  `yaml:"shutters"`
	}
	if err := yaml.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("block is not valid YAML: %v\n%s", err, body)
	}

	if got.SwitchsModel.Type != "object" {
		t.Errorf("switchsModel.type = %q", got.SwitchsModel.Type)
	}
	if _, ok := got.SwitchsModel.Properties["location_id"]; !ok {
		t.Error("switchsModel.properties missing location_id")
	}
	if len(got.Locations) != 2 || got.Locations[0].LocationID != nil {
		t.Errorf("locations = %+v", got.Locations)
	}
	if got.Locations[1].LocationID == nil || *got.Locations[1].LocationID != "GroundFloor" {
		t.Errorf("Kitchen location_id = %v", got.Locations[1].LocationID)
	}
	if len(got.Switchs) != 1 || got.Switchs[0].State != "on" {
		t.Errorf("switchs = %+v", got.Switchs)
	}
	if len(got.Shutters) != 1 || got.Shutters[0].LocationID != nil {
		t.Errorf("shutters = %+v", got.Shutters)
	}
}

func TestRender_ModelsUseBlockStyle(t *testing.T) {
	r := newTestRenderer(t)
	res, err := r.Render(fullSnapshot())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(res.Instructions, `{"type"`) {
		t.Error("model descriptors rendered in JSON flow style")
	}
	if !strings.Contains(res.Instructions, `- "null"`) {
		t.Error(`"null" type name should stay quoted so it reads as a string`)
	}
	// YAML 1.1 readers treat bare on/off as booleans.
	for _, want := range []string{`- "on"`, `- "off"`} {
		if !strings.Contains(res.Instructions, want) {
			t.Errorf("switch enum missing %s", want)
		}
	}
	if strings.Contains(res.Instructions, "- on\n") || strings.Contains(res.Instructions, `"type":`) {
		t.Error("enum values unquoted or mapping keys quoted")
	}
	if !strings.Contains(res.Instructions, `type: "object"`) {
		t.Errorf("expected block mapping with quoted value in:\n%s", res.Instructions)
	}
}

func TestRender_EmptySequencesAreLists(t *testing.T) {
	r := newTestRenderer(t)
	res, err := r.Render(inventory.Snapshot{
		Switchs: []inventory.Switch{{ID: "a", State: "off"}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, k := range []string{"\nlocations: []", "\nshutters: []"} {
		if !strings.Contains(res.Instructions, k) {
			t.Errorf("expected %q in:\n%s", k, res.Instructions)
		}
	}
}

func TestHTML(t *testing.T) {
	html, err := HTML(Preamble + "\n" + fenceOpen + "\nswitchs: []\n" + fenceClose)
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if !strings.Contains(html, "<strong>round to the nearest whole number</strong>") {
		t.Errorf("bold text not rendered:\n%s", html)
	}
	if !strings.Contains(html, `<code class="language-yaml">`) {
		t.Errorf("fenced block not rendered:\n%s", html)
	}
}
