// Package reconcile keeps a client's view of one chat free of duplicates while
// messages arrive from three directions: history loads, optimistic local
// sends and realtime events. Messages are identified by id only.
package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	pb "learnhub/messaging-service/api/messaging"
)

// Merge appends every incoming message whose id is not already present and
// returns the result ordered by creation time. Ties keep arrival order.
func Merge(local []*pb.Message, incoming ...*pb.Message) []*pb.Message {
	all := make([]*pb.Message, 0, len(local)+len(incoming))
	all = append(all, local...)
	all = append(all, incoming...)
	merged := lo.UniqBy(all, func(m *pb.Message) string { return m.ID })
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

type Entry struct {
	Message *pb.Message
	Status  Status
}

// Run marks where an entry sits in a block of consecutive messages from the
// same sender, for grouped rendering.
type Run struct {
	Entry
	FirstOfRun bool
	LastOfRun  bool
}

// Timeline is the ordered, duplicate-free list of a chat's messages on the
// client. It is safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

func (t *Timeline) indexOf(id string) int {
	_, idx, ok := lo.FindIndexOf(t.entries, func(e Entry) bool { return e.Message.ID == id })
	if !ok {
		return -1
	}
	return idx
}

func (t *Timeline) sort() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Message.CreatedAt.Before(t.entries[j].Message.CreatedAt)
	})
}

// AddOptimistic shows a locally composed message before the server has
// confirmed it. A message whose id is already present is ignored.
func (t *Timeline) AddOptimistic(msg *pb.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexOf(msg.ID) >= 0 {
		return
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	t.entries = append(t.entries, Entry{Message: msg, Status: StatusPending})
	t.sort()
}

// Apply merges authoritative messages from the server, whether a send
// response, a realtime event or a history page. A known id takes the server
// copy and becomes sent; an unknown id is appended.
func (t *Timeline) Apply(msgs ...*pb.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range msgs {
		if idx := t.indexOf(msg.ID); idx >= 0 {
			t.entries[idx] = Entry{Message: msg, Status: StatusSent}
			continue
		}
		t.entries = append(t.entries, Entry{Message: msg, Status: StatusSent})
	}
	t.sort()
}

// Reset replaces the confirmed part of the timeline with a fresh history
// page. Pending and failed local entries survive, and so do confirmed
// entries newer than the page: the stream may have delivered them after the
// page was read.
func (t *Timeline) Reset(history []*pb.Message) {
	var newest time.Time
	for _, m := range history {
		if m.CreatedAt.After(newest) {
			newest = m.CreatedAt
		}
	}

	t.mu.Lock()
	local := lo.Filter(t.entries, func(e Entry, _ int) bool {
		return e.Status != StatusSent || e.Message.CreatedAt.After(newest)
	})
	t.entries = nil
	t.mu.Unlock()

	t.Apply(history...)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range local {
		if t.indexOf(e.Message.ID) < 0 {
			t.entries = append(t.entries, e)
		}
	}
	t.sort()
}

// Fail marks a pending entry as failed. The entry stays, so its content can
// be retried.
func (t *Timeline) Fail(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := t.indexOf(id); idx >= 0 && t.entries[idx].Status == StatusPending {
		t.entries[idx].Status = StatusFailed
	}
}

// Retry moves a failed entry back to pending and returns it for resending.
func (t *Timeline) Retry(id string) (*pb.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOf(id)
	if idx < 0 || t.entries[idx].Status != StatusFailed {
		return nil, false
	}
	t.entries[idx].Status = StatusPending
	return t.entries[idx].Message, true
}

// Discard drops a failed entry the user gave up on.
func (t *Timeline) Discard(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx := t.indexOf(id); idx >= 0 && t.entries[idx].Status == StatusFailed {
		t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	}
}

func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Runs annotates the current entries with sender-run boundaries.
func (t *Timeline) Runs() []Run {
	entries := t.Entries()
	runs := make([]Run, len(entries))
	for i, e := range entries {
		runs[i] = Run{
			Entry:      e,
			FirstOfRun: i == 0 || entries[i-1].Message.SenderID != e.Message.SenderID,
			LastOfRun:  i == len(entries)-1 || entries[i+1].Message.SenderID != e.Message.SenderID,
		}
	}
	return runs
}
