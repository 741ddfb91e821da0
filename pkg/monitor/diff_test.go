package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sipeed/nasrelay/pkg/truenas"
)

func TestDiffOrdering(t *testing.T) {
	prev := truenas.Statuses{"d": "up", "c": "up", "b": "up", "a": "up"}
	cur := truenas.Statuses{"d": "down", "b": "down", "e": "up"}

	assert.Equal(t, []Change{
		{Kind: KindChanged, App: "b", Old: "up", New: "down"},
		{Kind: KindChanged, App: "d", Old: "up", New: "down"},
		{Kind: KindDisappeared, App: "a", Old: "up"},
		{Kind: KindDisappeared, App: "c", Old: "up"},
	}, Diff(prev, cur))
}

func TestDiffIdentical(t *testing.T) {
	s := truenas.Statuses{"a": "up"}
	assert.Empty(t, Diff(s, s))
}

func TestChangeText(t *testing.T) {
	assert.Equal(t, "Alert: *plex* changed `RUNNING` → `STOPPED`",
		Change{Kind: KindChanged, App: "plex", Old: "RUNNING", New: "STOPPED"}.Text())
	assert.Equal(t, "Alert: *plex* has disappeared from TrueNAS (was `RUNNING`)",
		Change{Kind: KindDisappeared, App: "plex", Old: "RUNNING"}.Text())
}
