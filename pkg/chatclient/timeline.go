package chatclient

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/closetswap/swapchat/internal/types"
	"github.com/teris-io/shortid"
)

const (
	tempIdPrefix = "temp-"

	// reconcileWindow bounds how far apart an optimistic entry and its stored
	// copy may be when they are matched by content.
	reconcileWindow = 3 * time.Second
)

var ErrEmptyContent = errors.New("message content is empty")

type EntryState int

const (
	StateSending EntryState = iota
	StateSent
	StateFailed
)

func (s EntryState) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	case StateFailed:
		return "failed"
	}

	return "unknown"
}

// Entry is one line of a conversation. Optimistic entries carry a TempId and
// a zero Message.Id until the server confirms them.
type Entry struct {
	TempId  string        `json:"temp_id,omitempty"`
	Message types.Message `json:"message"`
	State   EntryState    `json:"state"`
	Error   string        `json:"error,omitempty"`
}

// Key identifies the entry: the durable id once stored, the temp id before.
func (e Entry) Key() string {
	if e.Message.Id != 0 {
		return strconv.Itoa(e.Message.Id)
	}

	return e.TempId
}

func (e Entry) pending() bool {
	return e.Message.Id == 0 && e.State == StateSending
}

// Timeline holds the ordered messages of one match as seen by one user. Each
// durable message appears at most once regardless of how many paths deliver
// it.
type Timeline struct {
	mu      sync.Mutex
	matchId int
	userId  int
	entries []Entry
	now     func() time.Time
}

func NewTimeline(matchId, userId int) *Timeline {
	return &Timeline{
		matchId: matchId,
		userId:  userId,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func newTempId() (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate temp id: %w", err)
	}

	return tempIdPrefix + id, nil
}

// AddOptimistic appends a message from the local user before the server has
// stored it.
func (t *Timeline) AddOptimistic(content string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, ErrEmptyContent
	}

	tempId, err := newTempId()
	if err != nil {
		return Entry{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{
		TempId: tempId,
		Message: types.Message{
			MatchId:   t.matchId,
			SenderId:  t.userId,
			Content:   content,
			CreatedAt: t.now(),
		},
		State: StateSending,
	}
	t.entries = append(t.entries, e)

	return e, nil
}

// ConfirmSent reconciles the stored copy of a message this user sent.
// clientMsgId is the temp id echoed by the server; when it is empty the
// pending entry is found by sender, content and time instead.
func (t *Timeline) ConfirmSent(msg types.Message, clientMsgId string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexById(msg.Id) >= 0 {
		// already delivered by another path, drop the optimistic copy
		if i := t.indexByTempId(clientMsgId); i >= 0 {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
		}
		return
	}

	i := t.indexByTempId(clientMsgId)
	if i < 0 && clientMsgId == "" {
		i = t.indexByContent(msg)
	}

	if i >= 0 {
		t.entries[i] = Entry{Message: msg, State: StateSent}
		t.sort()
		return
	}

	t.insert(msg)
}

// AddIncoming adds a message delivered by the server. It reports false if the
// message was already present.
func (t *Timeline) AddIncoming(msg types.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexById(msg.Id) >= 0 {
		return false
	}

	t.insert(msg)
	return true
}

// MarkFailed flags the optimistic entry tempId as failed so it can be shown
// with an inline error and retried.
func (t *Timeline) MarkFailed(tempId, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexByTempId(tempId)
	if i < 0 {
		return false
	}

	t.entries[i].State = StateFailed
	t.entries[i].Error = reason
	return true
}

// FailPending marks every entry still sending that was created at or before
// cutoff as failed. It returns how many entries changed.
func (t *Timeline) FailPending(cutoff time.Time, reason string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int
	for i := range t.entries {
		if t.entries[i].pending() && !t.entries[i].Message.CreatedAt.After(cutoff) {
			t.entries[i].State = StateFailed
			t.entries[i].Error = reason
			n++
		}
	}

	return n
}

// Retry moves a failed entry back to sending and returns it.
func (t *Timeline) Retry(tempId string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexByTempId(tempId)
	if i < 0 || t.entries[i].State != StateFailed {
		return Entry{}, false
	}

	t.entries[i].State = StateSending
	t.entries[i].Error = ""
	t.entries[i].Message.CreatedAt = t.now()
	return t.entries[i], true
}

// Merge folds a page of stored history into the timeline. Messages already
// present are skipped. A stored message of this user that matches a pending
// entry replaces it, which covers acknowledgements lost to a disconnect.
func (t *Timeline) Merge(history []types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range history {
		if t.indexById(msg.Id) >= 0 {
			continue
		}

		if i := t.indexByContent(msg); i >= 0 {
			t.entries[i] = Entry{Message: msg, State: StateSent}
			continue
		}

		t.entries = append(t.entries, Entry{Message: msg, State: StateSent})
	}

	t.sort()
}

// Entries returns a copy of the timeline in display order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, len(t.entries))
	copy(entries, t.entries)
	return entries
}

func (t *Timeline) insert(msg types.Message) {
	t.entries = append(t.entries, Entry{Message: msg, State: StateSent})
	t.sort()
}

// sort orders entries by creation time, then durable id. Pending entries
// without an id sort after stored ones created at the same instant.
func (t *Timeline) sort() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := t.entries[i].Message, t.entries[j].Message
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Id == 0 || b.Id == 0 {
			return a.Id != 0 && b.Id == 0
		}
		return a.Id < b.Id
	})
}

func (t *Timeline) indexById(id int) int {
	if id == 0 {
		return -1
	}

	for i, e := range t.entries {
		if e.Message.Id == id {
			return i
		}
	}

	return -1
}

func (t *Timeline) indexByTempId(tempId string) int {
	if tempId == "" {
		return -1
	}

	for i, e := range t.entries {
		if e.Message.Id == 0 && e.TempId == tempId {
			return i
		}
	}

	return -1
}

// indexByContent finds the oldest pending entry with the same sender and
// trimmed content created within reconcileWindow of msg.
func (t *Timeline) indexByContent(msg types.Message) int {
	content := strings.TrimSpace(msg.Content)
	for i, e := range t.entries {
		if !e.pending() || e.Message.SenderId != msg.SenderId || e.Message.Content != content {
			continue
		}

		delta := msg.CreatedAt.Sub(e.Message.CreatedAt)
		if delta < 0 {
			delta = -delta
		}

		if delta <= reconcileWindow {
			return i
		}
	}

	return -1
}
