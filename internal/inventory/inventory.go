// Package inventory turns raw openHAB items into the locations,
// switches and shutters the agent reasons about.
//
// Classification is pure: the same item list always yields the same
// [Snapshot], in input order. Location references are copied from the
// item's first group without checking that the group exists, so a
// snapshot may contain dangling location_id values.
package inventory

import (
	"strings"

	"github.com/nugget/thane-openhab/internal/openhab"
)

// Item types and tags recognised by the classifier.
const (
	TypeGroup         = "Group"
	TypeSwitch        = "Switch"
	TypeRollershutter = "Rollershutter"

	TagLocation  = "Location"
	TagEquipment = "Equipment"
)

// Shutter states. openHAB reports rollershutter position as a
// percentage where 0 is fully open.
const (
	ShutterOpened = "opened"
	ShutterClosed = "closed"
)

// Location is a physical area (a Group item tagged Location).
type Location struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	LocationID *string `json:"location_id" yaml:"location_id"`
}

// Switch is a binary device (a Switch item tagged Equipment). State is
// the raw openHAB state lower-cased, normally "on" or "off".
type Switch struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	State      string  `json:"state" yaml:"state"`
	LocationID *string `json:"location_id" yaml:"location_id"`
}

// Shutter is a cover (a Rollershutter item tagged Equipment).
type Shutter struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	State      string  `json:"state" yaml:"state"`
	LocationID *string `json:"location_id" yaml:"location_id"`
}

// Snapshot is the classified inventory for one reconciliation cycle.
// The slices are never nil.
type Snapshot struct {
	Locations []Location `json:"locations"`
	Switchs   []Switch   `json:"switchs"`
	Shutters  []Shutter  `json:"shutters"`
}

// HasDevices reports whether the snapshot holds anything the agent can
// act on. Locations alone do not count.
func (s Snapshot) HasDevices() bool {
	return len(s.Switchs) > 0 || len(s.Shutters) > 0
}

// Classify maps each item to at most one entity. The predicates are
// tried in order Location, Switch, Shutter and the first match wins.
// Items matching none are dropped.
func Classify(items []openhab.Item) Snapshot {
	snap := Snapshot{
		Locations: []Location{},
		Switchs:   []Switch{},
		Shutters:  []Shutter{},
	}

	for _, it := range items {
		switch {
		case isLocation(it):
			snap.Locations = append(snap.Locations, Location{
				ID:         it.Name,
				Name:       it.Label,
				LocationID: parentLocation(it),
			})
		case isSwitch(it):
			snap.Switchs = append(snap.Switchs, Switch{
				ID:         it.Name,
				Name:       it.Label,
				State:      strings.ToLower(it.State),
				LocationID: parentLocation(it),
			})
		case isShutter(it):
			snap.Shutters = append(snap.Shutters, Shutter{
				ID:         it.Name,
				Name:       it.Label,
				State:      shutterState(it.State),
				LocationID: parentLocation(it),
			})
		}
	}

	return snap
}

func isLocation(it openhab.Item) bool {
	return it.Type == TypeGroup && it.HasTag(TagLocation)
}

func isSwitch(it openhab.Item) bool {
	return it.Type == TypeSwitch && it.HasTag(TagEquipment)
}

func isShutter(it openhab.Item) bool {
	return it.Type == TypeRollershutter && it.HasTag(TagEquipment)
}

// parentLocation returns the item's first declared group. Later groups
// are ignored.
func parentLocation(it openhab.Item) *string {
	if len(it.GroupNames) == 0 {
		return nil
	}
	parent := it.GroupNames[0]
	return &parent
}

func shutterState(raw string) string {
	if raw == "0" {
		return ShutterOpened
	}
	return ShutterClosed
}
