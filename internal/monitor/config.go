package monitor

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config holds every CLI-configurable knob, plus the report-wlan/
// max-index extras. It is the merge target for both the optional "-f"
// YAML defaults file and the cobra flags in cmd/monitor, flags always
// winning.
type Config struct {
	Verbose    bool     `yaml:"verbose"`
	CycleSecs  float64  `yaml:"cycle_seconds"`
	Runs       int      `yaml:"runs"`
	SidecarURL string   `yaml:"sidecar_url"`
	OutputPath string   `yaml:"output_path"`
	ReportWlan bool     `yaml:"report_wlan"`
	MaxIndex   int      `yaml:"max_index"`
	Nodes      []string `yaml:"nodes"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Verbose:    false,
		CycleSecs:  3.0,
		Runs:       0,
		SidecarURL: "ws://localhost:443/",
		OutputPath: "",
		ReportWlan: true,
		MaxIndex:   0,
		Nodes:      nil,
	}
}

// LoadConfigFile reads a YAML defaults file. A field missing from the
// file keeps its built-in DefaultConfig value, since this is only ever
// used to seed defaults before flags are applied on top.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config file %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}

// ResolveNodeIDs turns the configured positional node arguments into a
// sorted, de-duplicated id slice, discarding malformed entries. An
// empty list of node arguments falls back to the default range 1..37.
func ResolveNodeIDs(nodes []string) []int {
	if len(nodes) == 0 {
		ids := make([]int, 0, 37)
		for i := 1; i <= 37; i++ {
			ids = append(ids, i)
		}
		return ids
	}

	var ids []int
	for _, arg := range nodes {
		if id, ok := NormalizeNodeArg(arg); ok {
			ids = append(ids, id)
		}
	}
	return sortedIDs(idSet(ids))
}
