package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"ai-talks/internal/domain"
	"ai-talks/internal/engine"
	"ai-talks/internal/security"
	"ai-talks/internal/usecase"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func expect(t *testing.T, conn *websocket.Conn, typ string) wsMessage {
	t.Helper()
	msg := next(t, conn)
	require.Equal(t, typ, msg.Type, "unexpected frame %+v", msg)
	return msg
}

func TestLive_RequiresNonce(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/conversations/live", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLive_StartStreamsEventsAndStop(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dial(t, srv, "/api/v1/conversations/live?"+security.QueryParam+"="+f.nonces.Issue().Token)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "start",
		"message": "Hello there",
		"settings": map[string]any{
			"direction": "human-to-a",
			"agentA":    map[string]any{"name": "Ada", "model": "m"},
		},
	}))

	turn := expect(t, conn, string(engine.EventTurn))
	require.Equal(t, "conv_1", turn.ConversationID)
	require.Equal(t, "thinking", turn.State)
	require.Equal(t, "Hello there", turn.Turn.Text)
	started := expect(t, conn, "started")
	require.Equal(t, "conv_1", started.ConversationID)

	in, _, _ := f.session.snapshot()
	require.Equal(t, domain.DirectionHumanToA, in.Settings.Direction)
	require.Equal(t, "Ada", in.Settings.AgentA.Name)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "transcript"}))
	tr := expect(t, conn, "transcript")
	require.Equal(t, "conv_1", tr.Transcript.ConversationID)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	bad := expect(t, conn, "error")
	require.Equal(t, "unknown_message", bad.Reason)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "stop", "reason": "User stopped."}))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, ends, waited := f.session.snapshot()
		return waited && len(ends) == 2 && ends[0] == "User stopped." && ends[1] == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLive_StartErrors(t *testing.T) {
	f := newFixture(t)
	f.session.err = &engine.ValidationError{Field: "message", Reason: "must not be empty"}
	srv := httptest.NewServer(f.server)
	defer srv.Close()

	conn := dial(t, srv, "/api/v1/conversations/live?nonce="+f.nonces.Issue().Token)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "start"}))
	msg := expect(t, conn, "error")
	require.Equal(t, string(usecase.ErrorInvalidInput), msg.Error)
	require.Equal(t, "invalid_message", msg.Reason)

	require.Equal(t, "session_active", startError(engine.ErrSessionActive).Reason)
}

func sharedFixture(t *testing.T, clips []domain.AudioClip) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	f.shares.transcript = domain.Transcript{
		Shared: true,
		Turns: []domain.Turn{
			{Index: 0, SpeakerID: domain.SpeakerAgentA, Text: "Topic?"},
			{Index: 1, SpeakerID: domain.SpeakerAgentB, Text: "Cats."},
		},
	}
	f.clips.clips = clips
	srv := httptest.NewServer(f.server)
	t.Cleanup(srv.Close)
	return f, srv
}

func TestReplay_PlaysClipsInOrder(t *testing.T) {
	_, srv := sharedFixture(t, []domain.AudioClip{
		{TurnIndex: 1, File: "message_1.wav"},
		{TurnIndex: 0, File: "message_0.wav"},
	})
	conn := dial(t, srv, "/api/v1/conversations/c1/replay")

	tr := expect(t, conn, "transcript")
	require.Len(t, tr.Transcript.Turns, 2)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "toggle"}))
	expect(t, conn, "clear")
	hl := expect(t, conn, "highlight")
	require.Equal(t, 0, *hl.Index)
	play := expect(t, conn, "play")
	require.Equal(t, 1, play.Seq)
	require.Equal(t, "message_0.wav", play.Clip.File)
	status := expect(t, conn, "status")
	require.True(t, *status.Playing)

	// A stale report does not advance playback.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ended", "seq": 7}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "error", "seq": 1, "error": "decode"}))
	expect(t, conn, "clear")
	hl = expect(t, conn, "highlight")
	require.Equal(t, 1, *hl.Index)
	play = expect(t, conn, "play")
	require.Equal(t, 2, play.Seq)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ended", "seq": 2}))
	expect(t, conn, "pause")
	expect(t, conn, "clear")
	expect(t, conn, "stopped")
}

func TestReplay_ToggleStops(t *testing.T) {
	_, srv := sharedFixture(t, []domain.AudioClip{{TurnIndex: 0, File: "message_0.wav"}})
	conn := dial(t, srv, "/api/v1/conversations/c1/replay")
	expect(t, conn, "transcript")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "toggle"}))
	expect(t, conn, "clear")
	expect(t, conn, "highlight")
	expect(t, conn, "play")
	expect(t, conn, "status")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "toggle"}))
	expect(t, conn, "pause")
	expect(t, conn, "clear")
	expect(t, conn, "stopped")
	status := expect(t, conn, "status")
	require.False(t, *status.Playing)
}

func TestReplay_NoAudioNotice(t *testing.T) {
	_, srv := sharedFixture(t, nil)
	conn := dial(t, srv, "/api/v1/conversations/c1/replay")
	expect(t, conn, "transcript")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "toggle"}))
	msg := expect(t, conn, "notice")
	require.Equal(t, noAudioNotice, msg.Notice.Text)
}

func TestReplay_ExpiredShareRejectsUpgrade(t *testing.T) {
	f, srv := sharedFixture(t, nil)
	f.shares.sharedErr = &usecase.Error{Code: usecase.ErrorExpired, Reason: "share_expired"}

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/conversations/c1/replay", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusGone, resp.StatusCode)
}
