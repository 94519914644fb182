package services

import (
	"time"

	"nihongo-admin/internal/models"
)

const (
	// Adjacent same-sender messages closer than this render as one group.
	groupWindow = 2 * time.Minute
	// A gap at least this large gets a time separator before the message.
	separatorGap = 5 * time.Minute
)

// TimelineEntry is one rendered message plus its grouping flags. Separator,
// when non-empty, is the label shown above the message.
type TimelineEntry struct {
	Message      models.ChatMessage `json:"message"`
	FirstInGroup bool               `json:"first_in_group"`
	LastInGroup  bool               `json:"last_in_group"`
	Separator    string             `json:"separator,omitempty"`
}

// GroupMessages turns an ordered message list into render groups. It is a
// pure function of the list: recomputed in full on every snapshot, same input
// always yields the same output.
func GroupMessages(msgs []models.ChatMessage) []TimelineEntry {
	entries := make([]TimelineEntry, len(msgs))
	for i, msg := range msgs {
		entries[i] = TimelineEntry{
			Message:      msg,
			FirstInGroup: i == 0 || !sameGroup(msgs[i-1], msg),
			LastInGroup:  i == len(msgs)-1 || !sameGroup(msg, msgs[i+1]),
		}
		if i == 0 {
			entries[i].Separator = separatorLabel(time.Time{}, msg.CreatedAt)
		} else if gapAtLeast(msgs[i-1].CreatedAt, msg.CreatedAt, separatorGap) {
			entries[i].Separator = separatorLabel(msgs[i-1].CreatedAt, msg.CreatedAt)
		}
	}
	return entries
}

// sameGroup reports whether b continues a's visual group: same sender, same
// calendar day, gap under the group window. Messages without a resolvable
// timestamp cannot produce a gap, so they never break a group on their own.
func sameGroup(a, b models.ChatMessage) bool {
	if a.SenderID != b.SenderID {
		return false
	}
	if a.CreatedAt.IsZero() || b.CreatedAt.IsZero() {
		return true
	}
	if !sameDay(a.CreatedAt, b.CreatedAt) {
		return false
	}
	return b.CreatedAt.Sub(a.CreatedAt) < groupWindow
}

func gapAtLeast(prev, cur time.Time, gap time.Duration) bool {
	if prev.IsZero() || cur.IsZero() {
		return false
	}
	return cur.Sub(prev) >= gap
}

// separatorLabel is hour:minute when cur falls on the same calendar day as
// prev, otherwise hour:minute plus date. A zero prev (first message overall)
// always gets the dated form.
func separatorLabel(prev, cur time.Time) string {
	if cur.IsZero() {
		return ""
	}
	if !prev.IsZero() && sameDay(prev, cur) {
		return cur.Format("15:04")
	}
	return cur.Format("15:04 02/01/2006")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
