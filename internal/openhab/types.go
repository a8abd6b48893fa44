// Package openhab provides a client for the openHAB REST API.
package openhab

// Item is an entry from GET /rest/items. Only the fields used for
// classification are decoded.
type Item struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Type       string   `json:"type"`
	Tags       []string `json:"tags"`
	GroupNames []string `json:"groupNames"`
	State      string   `json:"state"`
}

// HasTag reports whether the item carries tag (exact, case-sensitive).
func (i Item) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SystemInfo is the systemInfo object from GET /rest/systeminfo.
type SystemInfo struct {
	ConfigFolder string `json:"configFolder"`
	OSName       string `json:"osName"`
	OSVersion    string `json:"osVersion"`
	OSArch       string `json:"osArchitecture"`
	JavaVersion  string `json:"javaVersion"`
	StartLevel   int    `json:"startLevel"`
}

type systemInfoEnvelope struct {
	SystemInfo SystemInfo `json:"systemInfo"`
}
