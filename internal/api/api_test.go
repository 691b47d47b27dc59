package api

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/LemmyAI/duelo/internal/game"
	"github.com/LemmyAI/duelo/internal/game/gametest"
	"github.com/LemmyAI/duelo/internal/metrics"
	"github.com/LemmyAI/duelo/internal/modes/crash"
	"github.com/LemmyAI/duelo/internal/protocol"
)

type fixture struct {
	host *game.Host
	out  *gametest.Recorder
	srv  *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{out: gametest.NewRecorder()}
	f.host = game.NewHost(game.DefaultConfig(), f.out, []game.Mode{crash.New(crash.DefaultConfig())},
		game.WithClock(clock.NewMock()),
		game.WithMetrics(metrics.New(reg)),
		game.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(f.host.Close)

	f.srv = New(f.host,
		WithRoom("K3YZ", "http://192.168.0.10:8080"),
		WithGatherer(reg),
		WithPeerHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})),
		WithLogger(zaptest.NewLogger(t)))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) protocol.Snapshot {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s protocol.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder, status int) string {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e.Error
}

func TestAPI_HealthAndRoom(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/room", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var room RoomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	assert.Equal(t, "K3YZ", room.Code)
	assert.Equal(t, "http://192.168.0.10:8080/?room=K3YZ", room.JoinURL)
}

func TestAPI_LobbyFlow(t *testing.T) {
	f := newFixture(t)

	msg := decodeError(t, f.do(t, http.MethodPost, "/api/start", ""), http.StatusConflict)
	assert.Equal(t, game.ErrNoPlayers.Error(), msg)

	f.host.HandleIdentify("c1", "Ana")
	f.host.HandleIdentify("c2", "Beto")

	s := decodeSnapshot(t, f.do(t, http.MethodGet, "/api/state", ""))
	assert.Equal(t, protocol.PhaseLobby, s.GamePhase)
	assert.Len(t, s.AllPlayers, 2)

	s = decodeSnapshot(t, f.do(t, http.MethodPost, "/api/start", ""))
	assert.Equal(t, protocol.PhaseCustomization, s.GamePhase)

	decodeError(t, f.do(t, http.MethodPost, "/api/begin", ""), http.StatusConflict)
	decodeError(t, f.do(t, http.MethodPost, "/api/mode", `{"mode":"Poker"}`), http.StatusNotFound)
	decodeError(t, f.do(t, http.MethodPost, "/api/mode", `{"mode":`), http.StatusBadRequest)
	decodeError(t, f.do(t, http.MethodPost, "/api/mode", `{}`), http.StatusBadRequest)

	s = decodeSnapshot(t, f.do(t, http.MethodPost, "/api/mode", `{"mode":"crash"}`))
	assert.Equal(t, crash.Name, s.SelectedGameMode)

	s = decodeSnapshot(t, f.do(t, http.MethodPost, "/api/begin", ""))
	assert.Equal(t, protocol.PhaseCrashBetting, s.GamePhase)
	assert.Equal(t, 1, s.CurrentRound)

	decodeError(t, f.do(t, http.MethodPost, "/api/continue", ""), http.StatusConflict)
	decodeError(t, f.do(t, http.MethodPost, "/api/start", ""), http.StatusConflict)

	s = decodeSnapshot(t, f.do(t, http.MethodPost, "/api/abandon", ""))
	assert.Equal(t, protocol.PhaseLobby, s.GamePhase)
}

func TestAPI_Kick(t *testing.T) {
	f := newFixture(t)
	f.host.HandleIdentify("c1", "Ana")

	decodeError(t, f.do(t, http.MethodPost, "/api/kick/nobody", ""), http.StatusNotFound)

	s := decodeSnapshot(t, f.do(t, http.MethodPost, "/api/kick/c1", ""))
	assert.Empty(t, s.AllPlayers)
	msg, kicked := f.out.Kicked("c1")
	require.True(t, kicked)
	assert.Equal(t, protocol.MsgKicked, msg)
}

func TestAPI_ClosedHost(t *testing.T) {
	f := newFixture(t)
	f.host.HandleIdentify("c1", "Ana")
	f.host.Close()

	msg := decodeError(t, f.do(t, http.MethodPost, "/api/start", ""), http.StatusServiceUnavailable)
	assert.Equal(t, game.ErrClosed.Error(), msg)
}

func TestAPI_MethodAndRouteErrors(t *testing.T) {
	f := newFixture(t)

	decodeError(t, f.do(t, http.MethodGet, "/api/start", ""), http.StatusMethodNotAllowed)
	decodeError(t, f.do(t, http.MethodGet, "/nope", ""), http.StatusNotFound)
}

func TestAPI_QR(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/qr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, defaultQRSize, img.Bounds().Dx())

	rec = f.do(t, http.MethodGet, "/qr?size=128", "")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err = png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	decodeError(t, f.do(t, http.MethodGet, "/qr?size=huge", ""), http.StatusBadRequest)

	empty := New(f.host)
	rec = httptest.NewRecorder()
	empty.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/qr", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_MetricsAndPeer(t *testing.T) {
	f := newFixture(t)
	f.host.HandleIdentify("c1", "Ana")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duelo_")

	rec = f.do(t, http.MethodGet, "/peer/K3YZ", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
