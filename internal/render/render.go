// Package render turns a classified inventory snapshot into the
// instruction text and function schemas published to the agent.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"

	"github.com/nugget/thane-openhab/internal/inventory"
	"github.com/nugget/thane-openhab/internal/tools"
)

//go:embed models/*.json
var modelFS embed.FS

// Preamble opens every instruction text.
const Preamble = `
You are a home automation assistant, focused solely on managing connected devices in the home.
When asked to calculate an average, **round to the nearest whole number** without explaining the calculation.
`

// NoDevices replaces the inventory block when there is nothing to act on.
const NoDevices = `
Currently, there is no connected devices.
Your sole task is to ask the user to install one or more connected devices in the home before proceeding.
`

const (
	fenceOpen  = "``` yaml"
	fenceClose = "```"
)

// Functions holds the schemas the renderer may activate.
type Functions struct {
	Switches tools.Schema
	Shutters tools.Schema
}

// Result is the output of one render.
type Result struct {
	Instructions string
	Functions    []tools.Schema
}

// Renderer renders snapshots. It is safe for concurrent use; its state
// is fixed at construction.
type Renderer struct {
	functions Functions

	locationsModel *yaml.Node
	switchsModel   *yaml.Node
	shuttersModel  *yaml.Node
}

// New loads the embedded model descriptors.
func New(fns Functions) (*Renderer, error) {
	r := &Renderer{functions: fns}

	var err error
	if r.locationsModel, err = loadModel("locations"); err != nil {
		return nil, err
	}
	if r.switchsModel, err = loadModel("switchs"); err != nil {
		return nil, err
	}
	if r.shuttersModel, err = loadModel("shutters"); err != nil {
		return nil, err
	}
	return r, nil
}

// document fixes the key order of the YAML block.
type document struct {
	LocationsModel *yaml.Node           `yaml:"locationsModel"`
	SwitchsModel   *yaml.Node           `yaml:"switchsModel"`
	ShuttersModel  *yaml.Node           `yaml:"shuttersModel"`
	Locations      []inventory.Location `yaml:"locations"`
	Switchs        []inventory.Switch   `yaml:"switchs"`
	Shutters       []inventory.Shutter  `yaml:"shutters"`
}

// Render produces the instruction text and active function schemas for
// snap. A snapshot with no switches and no shutters yields the fallback
// message and no schemas, whatever locations it holds.
func (r *Renderer) Render(snap inventory.Snapshot) (Result, error) {
	res := Result{Functions: []tools.Schema{}}

	if !snap.HasDevices() {
		res.Instructions = strings.Join([]string{Preamble, NoDevices}, "\n")
		return res, nil
	}

	doc := document{
		LocationsModel: r.locationsModel,
		SwitchsModel:   r.switchsModel,
		ShuttersModel:  r.shuttersModel,
		Locations:      nonNil(snap.Locations),
		Switchs:        nonNil(snap.Switchs),
		Shutters:       nonNil(snap.Shutters),
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return Result{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Result{}, fmt.Errorf("encode snapshot: %w", err)
	}

	res.Instructions = strings.Join([]string{Preamble, fenceOpen, buf.String(), fenceClose}, "\n")

	if len(snap.Switchs) > 0 {
		res.Functions = append(res.Functions, r.functions.Switches)
	}
	if len(snap.Shutters) > 0 {
		res.Functions = append(res.Functions, r.functions.Shutters)
	}
	return res, nil
}

// HTML renders instruction markdown as an HTML fragment.
func HTML(instructions string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(instructions), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// loadModel decodes an embedded JSON descriptor into a YAML node so the
// authored key order is kept on output.
func loadModel(name string) (*yaml.Node, error) {
	data, err := modelFS.ReadFile("models/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("read %s model: %w", name, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s model: %w", name, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("parse %s model: unexpected document shape", name)
	}

	node := doc.Content[0]
	blockStyle(node)
	return node, nil
}

// blockStyle drops the flow style JSON input carries so descriptors
// render as block YAML. Mapping keys lose their quotes; scalar values
// keep them, so strings such as "on" or "null" still read as strings.
func blockStyle(n *yaml.Node) {
	switch n.Kind {
	case yaml.MappingNode:
		n.Style &^= yaml.FlowStyle
		for i, c := range n.Content {
			if i%2 == 0 && c.Kind == yaml.ScalarNode {
				c.Style = 0
				continue
			}
			blockStyle(c)
		}
	case yaml.SequenceNode:
		n.Style &^= yaml.FlowStyle
		for _, c := range n.Content {
			blockStyle(c)
		}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
