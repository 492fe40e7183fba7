package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveNodeIDsDefaultRange(t *testing.T) {
	ids := ResolveNodeIDs(nil)
	assert.Len(t, ids, 37)
	assert.Equal(t, 1, ids[0])
	assert.Equal(t, 37, ids[36])
}

func TestResolveNodeIDsAcceptsDigitsSubstrings(t *testing.T) {
	ids := ResolveNodeIDs([]string{"fit07", "12", "reboot03"})
	assert.Equal(t, []int{3, 7, 12}, ids)
}

func TestResolveNodeIDsDiscardsMalformedArgs(t *testing.T) {
	ids := ResolveNodeIDs([]string{"5", "nope", "six"})
	assert.Equal(t, []int{5}, ids)
}

func TestResolveNodeIDsDeduplicates(t *testing.T) {
	ids := ResolveNodeIDs([]string{"3", "fit03", "03"})
	assert.Equal(t, []int{3}, ids)
}

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3.0, cfg.CycleSecs)
	assert.Equal(t, 0, cfg.Runs)
	assert.True(t, cfg.ReportWlan)
	assert.Equal(t, 0, cfg.MaxIndex)
}
