// Package groupsync detects group messages appended by other clients by
// re-reading the group's message list on an interval and diffing it against
// the id of the last message seen.
package groupsync

import "github.com/xaenox/soullink/internal/models"

// Result is the outcome of one Diff.
type Result struct {
	// New holds messages after the last seen one, in order.
	New []models.GroupMessage

	// LastSeen is the cursor to use for the next Diff.
	LastSeen string

	// Baseline is set when this observation only recorded the cursor.
	Baseline bool

	// Resynced is set when the last seen message vanished and the cursor
	// jumped to the newest message without delivering anything.
	Resynced bool
}

// Diff compares messages (ascending) with the last seen id.
//
// An empty list changes nothing. Without a cursor, the newest id becomes the
// baseline and no backlog is delivered. With a cursor, messages after it are
// new; if the cursor is no longer in the list it is reset to the newest id.
func Diff(messages []models.GroupMessage, lastSeen string) Result {
	if len(messages) == 0 {
		return Result{LastSeen: lastSeen}
	}
	newest := messages[len(messages)-1].ID

	if lastSeen == "" {
		return Result{LastSeen: newest, Baseline: true}
	}

	for i, m := range messages {
		if m.ID != lastSeen {
			continue
		}
		if i == len(messages)-1 {
			return Result{LastSeen: lastSeen}
		}
		fresh := make([]models.GroupMessage, len(messages)-i-1)
		copy(fresh, messages[i+1:])
		return Result{New: fresh, LastSeen: newest}
	}

	return Result{LastSeen: newest, Resynced: true}
}
