package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabregas/media-chat/internal/history"
)

var fixedTime = time.Date(2024, 5, 1, 9, 8, 7, 0, time.UTC)

// newTestHub returns a hub whose handlers are driven directly by the test
// instead of by Run.
func newTestHub(sendBuffer int) *Hub {
	h := NewHub(NewRegistry(sendBuffer), history.New(10), NewMetrics(), zerolog.Nop())
	h.now = func() time.Time { return fixedTime }
	return h
}

// queued drains the frames currently buffered for s.
func queued(t *testing.T, s *Session) []ChatFrame {
	t.Helper()

	var frames []ChatFrame
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return frames
			}
			var f ChatFrame
			require.NoError(t, json.Unmarshal(data, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func notice(text string) ChatFrame {
	return ChatFrame{User: SystemUser, Message: text, Time: "09:08:07"}
}

// TestHubJoinNoticeGoesToExistingSessions checks the joining session never
// sees its own join notice.
func TestHubJoinNoticeGoesToExistingSessions(t *testing.T) {
	h := newTestHub(8)

	alice, err := h.handleJoin("alice")
	require.NoError(t, err)
	assert.Empty(t, queued(t, alice))

	bob, err := h.handleJoin("bob")
	require.NoError(t, err)

	assert.Equal(t, []ChatFrame{notice("bob joined")}, queued(t, alice))
	assert.Empty(t, queued(t, bob))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.activeSessions))
}

func TestHubRejectsTakenUsername(t *testing.T) {
	h := newTestHub(8)

	_, err := h.handleJoin("alice")
	require.NoError(t, err)

	_, err = h.handleJoin("alice")
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.Equal(t, 1, h.registry.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.joinsRejected))
}

// TestHubPublishReachesEveryoneAndRecordsHistory checks the sender receives
// its own message and that only user messages are recorded.
func TestHubPublishReachesEveryoneAndRecordsHistory(t *testing.T) {
	h := newTestHub(8)
	alice, _ := h.handleJoin("alice")
	bob, _ := h.handleJoin("bob")
	queued(t, alice)

	h.handlePublish(publishRequest{from: alice, text: "hello"})

	want := ChatFrame{User: "alice", Message: "hello", Time: "09:08:07"}
	assert.Equal(t, []ChatFrame{want}, queued(t, alice))
	assert.Equal(t, []ChatFrame{want}, queued(t, bob))
	assert.Equal(t, []history.Entry{{Time: "09:08:07", User: "alice", Message: "hello"}}, h.history.Entries())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.messagesBroadcast))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.historyEntries))
}

func TestHubDropsMessageFromDepartedSession(t *testing.T) {
	h := newTestHub(8)
	alice, _ := h.handleJoin("alice")
	bob, _ := h.handleJoin("bob")
	queued(t, alice)

	h.handleLeave(bob)
	h.handlePublish(publishRequest{from: bob, text: "too late"})

	assert.Equal(t, []ChatFrame{notice("bob disconnected")}, queued(t, alice))
	assert.Zero(t, h.history.Len())
}

// TestHubLeaveIsIdempotent checks a second leave neither notifies nor counts.
func TestHubLeaveIsIdempotent(t *testing.T) {
	h := newTestHub(8)
	alice, _ := h.handleJoin("alice")
	bob, _ := h.handleJoin("bob")
	queued(t, alice)

	h.handleLeave(bob)
	h.handleLeave(bob)

	assert.Equal(t, []ChatFrame{notice("bob disconnected")}, queued(t, alice))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.disconnects))

	_, open := <-bob.send
	assert.False(t, open, "outbound channel must be closed")
}

// TestHubDropsSlowConsumer checks a session with a full buffer is removed and
// announced instead of stalling the broadcast.
func TestHubDropsSlowConsumer(t *testing.T) {
	h := newTestHub(4)
	alice, _ := h.handleJoin("alice")
	for alice.offer([]byte(`{}`)) {
	}

	bob, err := h.handleJoin("bob")
	require.NoError(t, err)

	assert.False(t, h.registry.Contains(alice))
	assert.Equal(t, []ChatFrame{notice("alice disconnected")}, queued(t, bob))

	h.handleLeave(alice)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.disconnects))
	assert.Empty(t, queued(t, bob))
}

func TestHubRunAndShutdown(t *testing.T) {
	h := newTestHub(8)
	go h.Run()

	alice, err := h.Join("alice")
	require.NoError(t, err)
	require.NoError(t, h.Publish(alice, "hi"))
	frame := <-alice.Outbound()
	assert.Contains(t, string(frame), `"message":"hi"`)

	require.NoError(t, h.Shutdown(time.Second))

	_, open := <-alice.Outbound()
	assert.False(t, open)
	assert.Zero(t, h.registry.Len())
	assert.Error(t, h.Context().Err())

	_, err = h.Join("bob")
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, h.Publish(alice, "after"), ErrHubClosed)
	h.Leave(alice)
}

// TestHubShutdownWithoutRun checks a hub that was never started still shuts
// down, and refuses to start afterwards.
func TestHubShutdownWithoutRun(t *testing.T) {
	h := newTestHub(8)

	done := make(chan error, 1)
	go func() { done <- h.Shutdown(time.Second) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked on a hub that never ran")
	}
	assert.Error(t, h.Context().Err())

	h.Run()
	_, err := h.Join("alice")
	assert.ErrorIs(t, err, ErrHubClosed)
	require.NoError(t, h.Shutdown(time.Second))
}
