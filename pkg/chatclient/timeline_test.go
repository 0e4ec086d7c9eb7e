package chatclient

import (
	"strings"
	"testing"
	"time"

	"github.com/closetswap/swapchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestTimeline(now time.Time) *Timeline {
	tl := NewTimeline(7, 1)
	tl.now = func() time.Time { return now }
	return tl
}

func stored(id, senderId int, content string, createdAt time.Time) types.Message {
	return types.Message{
		Id:        id,
		MatchId:   7,
		SenderId:  senderId,
		Content:   content,
		CreatedAt: createdAt,
	}
}

func keys(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Key())
	}
	return out
}

func TestAddOptimistic(t *testing.T) {
	tl := newTestTimeline(baseTime)

	entry, err := tl.AddOptimistic("  hello  ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(entry.TempId, tempIdPrefix))
	assert.Equal(t, "hello", entry.Message.Content)
	assert.Equal(t, 1, entry.Message.SenderId)
	assert.Equal(t, StateSending, entry.State)
	assert.Equal(t, entry.TempId, entry.Key())

	_, err = tl.AddOptimistic(" \n\t")
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Len(t, tl.Entries(), 1)
}

func TestConfirmSent(t *testing.T) {
	tcases := []struct {
		name        string
		serverAt    time.Time
		useKey      bool
		expectedLen int
	}{
		{
			name:        "matched by client message id",
			serverAt:    baseTime.Add(time.Minute),
			useKey:      true,
			expectedLen: 1,
		},
		{
			name:        "matched by content within window",
			serverAt:    baseTime.Add(2 * time.Second),
			expectedLen: 1,
		},
		{
			name:        "content outside window is kept separate",
			serverAt:    baseTime.Add(10 * time.Second),
			expectedLen: 2,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			tl := newTestTimeline(baseTime)
			entry, err := tl.AddOptimistic("hello")
			require.NoError(t, err)

			clientMsgId := ""
			if tc.useKey {
				clientMsgId = entry.TempId
			}
			tl.ConfirmSent(stored(10, 1, "hello", tc.serverAt), clientMsgId)

			entries := tl.Entries()
			assert.Len(t, entries, tc.expectedLen)
			if tc.expectedLen == 1 {
				assert.Equal(t, 10, entries[0].Message.Id)
				assert.Equal(t, StateSent, entries[0].State)
				assert.Empty(t, entries[0].TempId)
			}
		})
	}
}

func TestConfirmSent_IdenticalContent(t *testing.T) {
	tl := newTestTimeline(baseTime)

	first, err := tl.AddOptimistic("ok")
	require.NoError(t, err)
	second, err := tl.AddOptimistic("ok")
	require.NoError(t, err)

	tl.ConfirmSent(stored(21, 1, "ok", baseTime.Add(time.Second)), second.TempId)

	entries := tl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, first.TempId, entries[0].Key(), "expected the first send to stay pending")
	assert.Equal(t, StateSending, entries[0].State)
	assert.Equal(t, "21", entries[1].Key())

	tl.ConfirmSent(stored(20, 1, "ok", baseTime.Add(time.Second)), first.TempId)
	assert.Equal(t, []string{"20", "21"}, keys(tl.Entries()))
}

func TestConfirmSent_AfterBroadcast(t *testing.T) {
	tl := newTestTimeline(baseTime)
	entry, err := tl.AddOptimistic("hi")
	require.NoError(t, err)

	msg := stored(5, 1, "hi", baseTime)
	assert.True(t, tl.AddIncoming(msg))
	tl.ConfirmSent(msg, entry.TempId)

	assert.Equal(t, []string{"5"}, keys(tl.Entries()))
}

func TestAddIncoming(t *testing.T) {
	tl := newTestTimeline(baseTime)

	assert.True(t, tl.AddIncoming(stored(2, 9, "second", baseTime.Add(time.Second))))
	assert.True(t, tl.AddIncoming(stored(1, 9, "first", baseTime)))
	assert.False(t, tl.AddIncoming(stored(2, 9, "second", baseTime.Add(time.Second))))

	assert.Equal(t, []string{"1", "2"}, keys(tl.Entries()))
}

func TestMerge(t *testing.T) {
	tl := newTestTimeline(baseTime.Add(5 * time.Second))
	pending, err := tl.AddOptimistic("lost ack")
	require.NoError(t, err)
	tl.AddIncoming(stored(3, 9, "live", baseTime.Add(3*time.Second)))

	tl.Merge([]types.Message{
		stored(1, 9, "old", baseTime),
		stored(3, 9, "live", baseTime.Add(3*time.Second)),
		stored(4, 1, "lost ack", baseTime.Add(6*time.Second)),
	})

	entries := tl.Entries()
	assert.Equal(t, []string{"1", "3", "4"}, keys(entries))
	for _, e := range entries {
		assert.NotEqual(t, pending.TempId, e.TempId)
		assert.Equal(t, StateSent, e.State)
	}

	tl.Merge([]types.Message{stored(1, 9, "old", baseTime)})
	assert.Len(t, tl.Entries(), 3)
}

func TestMarkFailedAndRetry(t *testing.T) {
	tl := newTestTimeline(baseTime)
	entry, err := tl.AddOptimistic("try me")
	require.NoError(t, err)

	_, ok := tl.Retry(entry.TempId)
	assert.False(t, ok, "expected retry of a sending entry to be refused")

	assert.True(t, tl.MarkFailed(entry.TempId, "network down"))
	assert.False(t, tl.MarkFailed("temp-unknown", "x"))

	failed := tl.Entries()[0]
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, "network down", failed.Error)

	// a failed entry is never matched by content
	tl.ConfirmSent(stored(8, 1, "try me", baseTime), "")
	assert.Len(t, tl.Entries(), 2)

	retried, ok := tl.Retry(entry.TempId)
	require.True(t, ok)
	assert.Equal(t, StateSending, retried.State)
	assert.Empty(t, retried.Error)
	assert.Equal(t, entry.TempId, retried.TempId)
}

func TestFailPending(t *testing.T) {
	tl := newTestTimeline(baseTime)
	early, err := tl.AddOptimistic("before the drop")
	require.NoError(t, err)
	confirmed, err := tl.AddOptimistic("acknowledged")
	require.NoError(t, err)
	tl.ConfirmSent(stored(4, 1, "acknowledged", baseTime), confirmed.TempId)

	tl.now = func() time.Time { return baseTime.Add(time.Minute) }
	late, err := tl.AddOptimistic("after the drop")
	require.NoError(t, err)

	assert.Equal(t, 1, tl.FailPending(baseTime.Add(time.Second), "connection lost"))

	states := map[string]EntryState{}
	for _, e := range tl.Entries() {
		states[e.Key()] = e.State
	}
	assert.Equal(t, map[string]EntryState{
		early.TempId: StateFailed,
		"4":          StateSent,
		late.TempId:  StateSending,
	}, states)

	assert.Equal(t, 0, tl.FailPending(baseTime.Add(time.Second), "connection lost"))
}

func TestEntryState_String(t *testing.T) {
	assert.Equal(t, "sending", StateSending.String())
	assert.Equal(t, "sent", StateSent.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", EntryState(42).String())
}
