package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// NodeInfo is the per-node info record. Most fields are optional and
// only ever set by the stage that owns them; the JSON encoding omits
// anything that was never observed.
type NodeInfo struct {
	ID int `json:"id"`

	CMCOnOff    string `json:"cmc_on_off,omitempty"`
	ControlSSH  string `json:"control_ssh,omitempty"`
	ControlPing string `json:"control_ping,omitempty"`
	OSRelease   string `json:"os_release,omitempty"`

	// wlan rate fields don't fit a fixed struct shape (device number is
	// open-ended), so they live in a side map and are flattened into the
	// same JSON object at marshal time.
	wlanRates map[string]float64
}

// wlanKey builds the "wlanK_d_rate" field name for device K, direction d.
func wlanKey(device, direction string) string {
	return fmt.Sprintf("%s_%s_rate", device, direction)
}

// SetWlanRate sets the rate field for device (e.g. "wlan0") and
// direction ("rx" or "tx").
func (n *NodeInfo) SetWlanRate(device, direction string, bitsPerSecond float64) {
	if n.wlanRates == nil {
		n.wlanRates = make(map[string]float64)
	}
	n.wlanRates[wlanKey(device, direction)] = bitsPerSecond
}

// ClearWlan zeroes every wlan* rate field already present on the
// record. It is a no-op for fields that were never set.
func (n *NodeInfo) ClearWlan() {
	for k := range n.wlanRates {
		n.wlanRates[k] = 0.0
	}
}

// MarshalJSON flattens the fixed fields and the wlan rate map into a
// single JSON object; field names are not nested under a "rates" key.
func (n NodeInfo) MarshalJSON() ([]byte, error) {
	raw := make(map[string]interface{}, 5+len(n.wlanRates))
	raw["id"] = n.ID
	if n.CMCOnOff != "" {
		raw["cmc_on_off"] = n.CMCOnOff
	}
	if n.ControlSSH != "" {
		raw["control_ssh"] = n.ControlSSH
	}
	if n.ControlPing != "" {
		raw["control_ping"] = n.ControlPing
	}
	if n.OSRelease != "" {
		raw["os_release"] = n.OSRelease
	}
	for k, v := range n.wlanRates {
		raw[k] = v
	}
	return json.Marshal(raw)
}

// Clone returns a deep copy of the record, used when a batch is
// snapshotted for emission — emissions are snapshots, not handoffs.
func (n NodeInfo) Clone() NodeInfo {
	out := n
	if n.wlanRates != nil {
		out.wlanRates = make(map[string]float64, len(n.wlanRates))
		for k, v := range n.wlanRates {
			out.wlanRates[k] = v
		}
	}
	return out
}

// flavour classifies os_release as "ubuntu" or "fedora" by its
// "ubuntu-"/"fedora-" prefix; anything else, including an empty
// os_release, is "other".
func (n NodeInfo) flavour() string {
	switch {
	case strings.HasPrefix(n.OSRelease, "ubuntu-"):
		return "ubuntu"
	case strings.HasPrefix(n.OSRelease, "fedora-"):
		return "fedora"
	case n.OSRelease == "other" || n.OSRelease == "":
		return "other"
	default:
		return "other"
	}
}

// InfoTable is the ordered, append-only population of NodeInfo
// records. Insertion order is preserved across cycles; the same id
// always resolves to the same slot.
type InfoTable struct {
	mu      sync.Mutex
	records []*NodeInfo
	index   map[int]int // id -> position in records
}

// NewInfoTable returns an empty table.
func NewInfoTable() *InfoTable {
	return &InfoTable{index: make(map[int]int)}
}

// Locate returns the record for id, or nil if it has never been
// observed.
func (t *InfoTable) Locate(id int) *NodeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locate(id)
}

func (t *InfoTable) locate(id int) *NodeInfo {
	if pos, ok := t.index[id]; ok {
		return t.records[pos]
	}
	return nil
}

// Overlay is one overlay map applied in InsertOrRefine; nil/empty
// strings are never written so earlier values survive "padding" passes
// that intentionally leave a field untouched.
type Overlay map[string]interface{}

// InsertOrRefine locates the record for id (creating it if absent) and
// applies each overlay in order, later overlays taking precedence.
// Applying (A, B) equals applying A then B, and applying the same
// overlay twice is idempotent.
func (t *InfoTable) InsertOrRefine(id int, overlays ...Overlay) *NodeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.locate(id)
	if rec == nil {
		rec = &NodeInfo{ID: id}
		t.index[id] = len(t.records)
		t.records = append(t.records, rec)
	}
	for _, overlay := range overlays {
		applyOverlay(rec, overlay)
	}
	return rec
}

func applyOverlay(rec *NodeInfo, overlay Overlay) {
	for k, v := range overlay {
		if v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		switch k {
		case "cmc_on_off":
			rec.CMCOnOff = v.(string)
		case "control_ssh":
			rec.ControlSSH = v.(string)
		case "control_ping":
			rec.ControlPing = v.(string)
		case "os_release":
			rec.OSRelease = v.(string)
		default:
			if rate, ok := v.(float64); ok && strings.HasPrefix(k, "wlan") {
				if rec.wlanRates == nil {
					rec.wlanRates = make(map[string]float64)
				}
				rec.wlanRates[k] = rate
			}
		}
	}
}

// ClearWireless resets every wlan* field of id to 0.0; a no-op if id
// is absent.
func (t *InfoTable) ClearWireless(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec := t.locate(id); rec != nil {
		rec.ClearWlan()
	}
}

// Snapshot returns a defensive copy of the records whose id is in ids,
// in table (insertion) order — this is the payload of one emitted
// batch.
func (t *InfoTable) Snapshot(ids map[int]struct{}) []NodeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]NodeInfo, 0, len(ids))
	for _, rec := range t.records {
		if _, ok := ids[rec.ID]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// All returns every record, in table order, for building the full
// one-line summary mask.
func (t *InfoTable) All() []NodeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]NodeInfo, len(t.records))
	for i, rec := range t.records {
		out[i] = rec.Clone()
	}
	return out
}

// Len reports how many distinct ids have ever been observed.
func (t *InfoTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
