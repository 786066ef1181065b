package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-voice/backend/internal/config"
	"github.com/zhouzirui/persona-voice/backend/internal/model/protocol"
	"github.com/zhouzirui/persona-voice/backend/internal/model/speech"
	"github.com/zhouzirui/persona-voice/backend/internal/service/ai"
	"github.com/zhouzirui/persona-voice/backend/internal/service/chat"
	personasvc "github.com/zhouzirui/persona-voice/backend/internal/service/persona"
	"github.com/zhouzirui/persona-voice/backend/internal/service/session"
	"github.com/zhouzirui/persona-voice/backend/internal/service/turn"
	"github.com/zhouzirui/persona-voice/backend/internal/service/voice"
	"github.com/zhouzirui/persona-voice/backend/internal/storage"
)

// historyModel replies with every input its session has seen so far.
type historyModel struct{}

func (historyModel) Name() string { return "history" }

func (historyModel) NewSession(context.Context, string) (ai.ChatSession, error) {
	return &historySession{}, nil
}

type historySession struct {
	mu     sync.Mutex
	inputs []string
}

func (s *historySession) Send(_ context.Context, input string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, input)
	return "seen: " + strings.Join(s.inputs, ","), nil
}

type echoSynth struct{}

func (echoSynth) Provider() string { return "echo" }

func (echoSynth) SynthesizeToBuffer(_ context.Context, userID, text, _ string) (*speech.TTSResponse, error) {
	return &speech.TTSResponse{UserID: userID, AudioData: []byte("audio:" + text), Format: "mp3"}, nil
}

type testServer struct {
	*httptest.Server
	registry *session.Registry
	contexts *chat.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryStore(map[string][]byte{
		"ada/metadata.json":          []byte(`{"name":"Ada Lovelace"}`),
		"ada/profile.txt":            []byte("Mathematician."),
		"ada/voice_id/voice_id.json": []byte(`{"voice_id":"v-ada"}`),
		"alan/profile.txt":           []byte("Logician."),
	})
	resolver := voice.NewResolver(store, config.DefaultVoiceLayout(), voice.Override{}, zerolog.Nop())
	profiles := personasvc.NewLoader(store, resolver, zerolog.Nop())
	contexts := chat.NewService(historyModel{}, 0, zerolog.Nop())
	pipeline := turn.NewPipeline(turn.Dependencies{
		Profiles: profiles,
		Contexts: contexts,
		Speech:   echoSynth{},
		Logger:   zerolog.Nop(),
	})
	registry := session.NewRegistry()

	handler := NewWebSocketHandler(registry, profiles, pipeline, nil, zerolog.Nop(), Options{
		PingInterval: time.Second,
		PingTimeout:  time.Second,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, registry: registry, contexts: contexts}
}

func (s *testServer) dial(t *testing.T) (*websocket.Conn, *http.Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, resp
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType, "unexpected binary frame %q", data)

	var out protocol.Outbound
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func readBinary(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)
	return data
}

func start(t *testing.T, conn *websocket.Conn, userID string) protocol.Outbound {
	t.Helper()
	send(t, conn, fmt.Sprintf(`{"type":"start_conversation","user_id":%q}`, userID))
	return readFrame(t, conn)
}

func TestRejectsPlainHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "WebSocket upgrade required")
	total, _ := srv.registry.Count()
	assert.Zero(t, total)
}

func TestUpgradeSendsCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	_, resp := srv.dial(t)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStartConversationEchoesProfileName(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := srv.dial(t)

	frame := start(t, conn, "ada")
	assert.Equal(t, protocol.TypeConversationStarted, frame.Type)
	assert.Equal(t, "Profile loaded for Ada Lovelace", frame.Message)

	require.Eventually(t, func() bool {
		_, identified := srv.registry.Count()
		return identified == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStartConversationWithoutUserID(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := srv.dial(t)

	send(t, conn, `{"type":"start_conversation"}`)
	frame := readFrame(t, conn)
	assert.Equal(t, protocol.TypeError, frame.Type)
	assert.Equal(t, "Missing user_id parameter", frame.Message)

	// still NEW, so identification can proceed
	frame = start(t, conn, "alan")
	assert.Equal(t, "Profile loaded for alan", frame.Message)
}

func TestUserMessageBeforeStart(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := srv.dial(t)

	send(t, conn, `{"type":"user_message","text":"hello"}`)
	frame := readFrame(t, conn)
	assert.Equal(t, protocol.TypeError, frame.Type)
	assert.Equal(t, "User not identified, send start_conversation first", frame.Message)

	// the next frame answers the next request, so exactly one error was sent
	frame = start(t, conn, "ada")
	assert.Equal(t, protocol.TypeConversationStarted, frame.Type)
	assert.Zero(t, srv.contexts.Len())
}

func TestTurnWithVoiceStreamsAudio(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := srv.dial(t)
	start(t, conn, "ada")

	send(t, conn, `{"type":"user_message","text":"hello"}`)
	frame := readFrame(t, conn)
	assert.Equal(t, protocol.TypeAssistantText, frame.Type)
	assert.Equal(t, "seen: hello", frame.Text)

	frame = readFrame(t, conn)
	assert.Equal(t, protocol.TypeAssistantAudioReady, frame.Type)
	assert.Equal(t, "Audio ready to stream", frame.Message)

	assert.Equal(t, []byte("audio:seen: hello"), readBinary(t, conn))
}

func TestTurnWithoutVoiceSendsTextOnly(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := srv.dial(t)
	start(t, conn, "alan")

	send(t, conn, `{"type":"user_message","text":"hello"}`)
	frame := readFrame(t, conn)
	assert.Equal(t, "seen: hello", frame.Text)

	send(t, conn, `{"type":"user_message","text":"  "}`)
	frame = readFrame(t, conn)
	assert.Equal(t, protocol.TypeError, frame.Type)
	assert.Equal(t, "Missing text parameter", frame.Message)
}

func TestInvalidFramesKeepConnectionOpen(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := srv.dial(t)

	send(t, conn, `{not json`)
	frame := readFrame(t, conn)
	assert.Equal(t, "Invalid JSON message", frame.Message)

	send(t, conn, `{"type":"dance"}`)
	frame = readFrame(t, conn)
	assert.Equal(t, "Unknown message type: dance", frame.Message)

	frame = start(t, conn, "ada")
	assert.Equal(t, protocol.TypeConversationStarted, frame.Type)
}

func TestReidentification(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := srv.dial(t)
	start(t, conn, "ada")

	frame := start(t, conn, "ada")
	assert.Equal(t, protocol.TypeConversationStarted, frame.Type)

	frame = start(t, conn, "alan")
	assert.Equal(t, protocol.TypeError, frame.Type)
	assert.Equal(t, "Session already identified as a different user", frame.Message)
}

func TestSessionsShareConversationContext(t *testing.T) {
	srv := newTestServer(t)
	first, _ := srv.dial(t)
	second, _ := srv.dial(t)
	start(t, first, "alan")
	start(t, second, "alan")

	send(t, first, `{"type":"user_message","text":"turn A"}`)
	assert.Equal(t, "seen: turn A", readFrame(t, first).Text)

	send(t, second, `{"type":"user_message","text":"turn B"}`)
	assert.Equal(t, "seen: turn A,turn B", readFrame(t, second).Text)

	assert.Equal(t, 1, srv.contexts.Len())
	convo, ok := srv.contexts.Lookup("alan")
	require.True(t, ok)
	assert.Len(t, convo.Exchanges(), 2)
}

func TestDisconnectRemovesSession(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := srv.dial(t)
	start(t, conn, "ada")

	total, _ := srv.registry.Count()
	require.Equal(t, 1, total)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		total, _ := srv.registry.Count()
		return total == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	h := NewWebSocketHandler(session.NewRegistry(), nil, nil, nil, zerolog.Nop(), Options{AllowedOrigins: []string{"https://app.example"}})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
}

// slowTurns takes longer than the liveness deadline to answer.
type slowTurns struct {
	delay time.Duration
}

func (s slowTurns) RunTurn(_ context.Context, _ string, input string) turn.Result {
	time.Sleep(s.delay)
	return turn.Result{Text: "slow: " + input}
}

func TestSlowTurnKeepsResponsiveConnection(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	profiles := personasvc.NewLoader(store, nil, zerolog.Nop())
	handler := NewWebSocketHandler(session.NewRegistry(), profiles, slowTurns{delay: 600 * time.Millisecond}, nil, zerolog.Nop(), Options{
		PingInterval: 100 * time.Millisecond,
		PingTimeout:  100 * time.Millisecond,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	frame := start(t, conn, "ada")
	require.Equal(t, protocol.TypeConversationStarted, frame.Type)

	// the client answers pings from inside ReadMessage while it waits
	send(t, conn, `{"type":"user_message","text":"one"}`)
	assert.Equal(t, "slow: one", readFrame(t, conn).Text)

	send(t, conn, `{"type":"user_message","text":"two"}`)
	assert.Equal(t, "slow: two", readFrame(t, conn).Text)
}
