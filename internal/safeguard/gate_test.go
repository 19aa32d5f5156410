package safeguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testLevels = map[string]Level{
	"get_device_status": L0,
	"create_ticket":     L1,
	"unlock_account":    L2,
	"reset_password":    L3,
	"create_user":       L4,
}

func TestDecisionTable(t *testing.T) {
	gate := NewGate(true, testLevels, nil)

	cases := []struct {
		name        string
		tool        string
		confidence  float64
		wantAllowed bool
		wantLevel   string
		wantHuman   bool
	}{
		{"L0 always allowed", "get_device_status", 0, true, "L0", false},
		{"L1 at threshold", "create_ticket", 80, true, "L1", false},
		{"L1 above threshold", "create_ticket", 100, true, "L1", false},
		{"L1 below threshold", "create_ticket", 79, false, "L1", true},
		{"L1 zero confidence", "create_ticket", 0, false, "L1", true},
		{"L2 allowed", "unlock_account", 0, true, "L2", false},
		{"L3 always blocked", "reset_password", 100, false, "L3", true},
		{"L4 forbidden", "create_user", 100, false, "L4", false},
		{"unknown tool denied", "mystery_tool", 100, false, "L3", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := gate.Check(tc.tool, tc.confidence)
			assert.Equal(t, tc.wantAllowed, d.Allowed)
			assert.Equal(t, tc.wantLevel, d.LevelName)
			assert.Equal(t, tc.wantHuman, d.RequiresHuman)
		})
	}
}

func TestDecisionIsPure(t *testing.T) {
	gate := NewGate(true, testLevels, nil)
	first := gate.Check("reset_password", 50)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, gate.Check("reset_password", 50))
	}
}

func TestDisabledGateMapsEverythingToL0(t *testing.T) {
	gate := NewGate(false, testLevels, nil)

	for _, tool := range []string{"get_device_status", "reset_password", "create_user", "mystery_tool"} {
		d := gate.Check(tool, 0)
		assert.True(t, d.Allowed, tool)
		assert.Equal(t, "L0", d.LevelName, tool)
	}
}

func TestL3BlockCarriesApprovalHint(t *testing.T) {
	gate := NewGate(true, testLevels, nil)
	d := gate.Check("reset_password", 100)
	assert.NotEmpty(t, d.ApprovalHint)
}

func TestL4BlockHasNoQueuePath(t *testing.T) {
	gate := NewGate(true, testLevels, nil)
	d := gate.Check("create_user", 100)
	assert.False(t, d.RequiresHuman)
	assert.Empty(t, d.ApprovalHint)
}

type recordingNotifier struct {
	titles []string
}

func (n *recordingNotifier) Notify(title, _ string) { n.titles = append(n.titles, title) }

func TestL2EmitsNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	gate := NewGate(true, testLevels, notifier)

	gate.Check("unlock_account", 100)
	assert.Len(t, notifier.titles, 1)

	gate.Check("get_device_status", 100)
	assert.Len(t, notifier.titles, 1, "L0 must not notify")
}
