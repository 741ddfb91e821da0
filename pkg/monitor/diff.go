package monitor

import (
	"fmt"
	"sort"

	"github.com/sipeed/nasrelay/pkg/truenas"
)

const (
	KindChanged     = "changed"
	KindDisappeared = "disappeared"
)

// Change is one alert-worthy difference between two snapshots.
type Change struct {
	Kind string
	App  string
	Old  string
	New  string // empty for disappearances
}

// Text renders the alert sent to the admin chat.
func (c Change) Text() string {
	if c.Kind == KindDisappeared {
		return fmt.Sprintf("Alert: *%s* has disappeared from TrueNAS (was `%s`)", c.App, c.Old)
	}
	return fmt.Sprintf("Alert: *%s* changed `%s` → `%s`", c.App, c.Old, c.New)
}

// Diff compares two snapshots. Status changes come first, then
// disappearances, each sorted by app name. Apps only in cur are ignored.
func Diff(prev, cur truenas.Statuses) []Change {
	var changed, gone []Change
	for app, old := range prev {
		now, ok := cur[app]
		switch {
		case !ok:
			gone = append(gone, Change{Kind: KindDisappeared, App: app, Old: old})
		case now != old:
			changed = append(changed, Change{Kind: KindChanged, App: app, Old: old, New: now})
		}
	}
	byApp := func(s []Change) {
		sort.Slice(s, func(i, j int) bool { return s[i].App < s[j].App })
	}
	byApp(changed)
	byApp(gone)
	return append(changed, gone...)
}
