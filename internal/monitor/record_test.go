package monitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertOrRefineCreatesThenUpdates(t *testing.T) {
	table := NewInfoTable()

	table.InsertOrRefine(5, Overlay{"cmc_on_off": "on"})
	assert.Equal(t, 1, table.Len())

	rec := table.Locate(5)
	assert.Equal(t, "on", rec.CMCOnOff)

	table.InsertOrRefine(5, Overlay{"control_ssh": "off"})
	assert.Equal(t, 1, table.Len(), "same id must refine the existing record, not create a second one")
	assert.Equal(t, "on", table.Locate(5).CMCOnOff)
	assert.Equal(t, "off", table.Locate(5).ControlSSH)
}

func TestInsertOrRefineOverlayOrderMatchesSequentialApplication(t *testing.T) {
	tCases := []struct {
		desc     string
		overlays []Overlay
		want     string
	}{
		{
			desc:     "single overlay wins",
			overlays: []Overlay{{"os_release": "other"}},
			want:     "other",
		},
		{
			desc:     "later overlay overrides earlier",
			overlays: []Overlay{{"os_release": "other"}, {"os_release": "ubuntu-14.10"}},
			want:     "ubuntu-14.10",
		},
	}
	for _, tc := range tCases {
		t.Run(tc.desc, func(t *testing.T) {
			combined := NewInfoTable()
			combined.InsertOrRefine(1, tc.overlays...)

			sequential := NewInfoTable()
			for _, overlay := range tc.overlays {
				sequential.InsertOrRefine(1, overlay)
			}

			assert.Equal(t, tc.want, combined.Locate(1).OSRelease)
			assert.Equal(t, sequential.Locate(1).OSRelease, combined.Locate(1).OSRelease)
		})
	}
}

func TestInsertOrRefineIdempotentUnderRepeatedOverlay(t *testing.T) {
	table := NewInfoTable()
	overlay := Overlay{"os_release": "fedora-23"}
	table.InsertOrRefine(2, overlay)
	table.InsertOrRefine(2, overlay)
	assert.Equal(t, "fedora-23", table.Locate(2).OSRelease)
}

func TestClearWirelessIsNoopForAbsentNode(t *testing.T) {
	table := NewInfoTable()
	table.ClearWireless(99) // must not panic
	assert.Nil(t, table.Locate(99))
}

func TestClearWirelessZeroesExistingRates(t *testing.T) {
	table := NewInfoTable()
	rec := table.InsertOrRefine(6, Overlay{"wlan0_rx_rate": 8000.0})
	rec.SetWlanRate("wlan1", "tx", 500.0)

	table.ClearWireless(6)
	updated := table.Locate(6)
	assert.Equal(t, 0.0, updated.wlanRates["wlan0_rx_rate"])
	assert.Equal(t, 0.0, updated.wlanRates["wlan1_tx_rate"])
}

func TestNodeInfoMarshalJSONOmitsUnsetFields(t *testing.T) {
	rec := NodeInfo{ID: 4, CMCOnOff: "off", ControlPing: "off", ControlSSH: "off"}
	data, err := json.Marshal(rec)
	assert.NoError(t, err)

	var decoded map[string]interface{}
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(4), decoded["id"])
	assert.Equal(t, "off", decoded["cmc_on_off"])
	_, hasOSRelease := decoded["os_release"]
	assert.False(t, hasOSRelease)
}

func TestNodeInfoMarshalJSONFlattensWlanRates(t *testing.T) {
	rec := NodeInfo{ID: 5}
	rec.SetWlanRate("wlan0", "rx", 8000.0)
	data, err := json.Marshal(rec)
	assert.NoError(t, err)

	var decoded map[string]interface{}
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 8000.0, decoded["wlan0_rx_rate"])
}

func TestSnapshotPreservesTableOrder(t *testing.T) {
	table := NewInfoTable()
	table.InsertOrRefine(3, Overlay{"cmc_on_off": "on"})
	table.InsertOrRefine(1, Overlay{"cmc_on_off": "on"})
	table.InsertOrRefine(2, Overlay{"cmc_on_off": "on"})

	snap := table.Snapshot(map[int]struct{}{1: {}, 2: {}, 3: {}})
	var ids []int
	for _, r := range snap {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int{3, 1, 2}, ids, "insertion order must survive a snapshot")
}

func TestFlavourRoundTrips(t *testing.T) {
	tCases := []struct {
		release string
		want    string
	}{
		{"ubuntu-14.10-gnuradio-3.7.5", "ubuntu"},
		{"fedora-23", "fedora"},
		{"other", "other"},
		{"", "other"},
	}
	for _, tc := range tCases {
		rec := NodeInfo{OSRelease: tc.release}
		assert.Equal(t, tc.want, rec.flavour())
	}
}
