/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package server

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seednode/cantina/internal/notify"
	"github.com/Seednode/cantina/internal/protocol"
	"github.com/Seednode/cantina/internal/store"
)

type testServer struct {
	*Server
	http     *httptest.Server
	store    *store.Store
	notifier *notify.Memory
}

func setUpServer(t *testing.T, pingInterval time.Duration) *testServer {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err, "error initializing test database")
	t.Cleanup(func() { _ = st.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &Config{
		Release:       "test",
		Bind:          "127.0.0.1",
		Port:          7878,
		BaseURL:       "http://localhost:7878",
		OAuthClientID: "client-123",
		StateSecret:   "test secret",
		Database:      "test.db",
		TickInterval:  time.Hour,
		PingInterval:  pingInterval,
	}
	require.NoError(t, cfg.Validate())

	notifier := notify.NewMemory()
	srv := New(cfg, log, st, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.ctx = ctx

	logins, err := notifier.Subscribe(ctx)
	require.NoError(t, err)
	go srv.consumeLogins(ctx, logins)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Server: srv, http: ts, store: st, notifier: notifier}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.http.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, req protocol.Request) {
	t.Helper()

	data, err := protocol.EncodeRequest(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func receive(t *testing.T, conn *websocket.Conn) protocol.Response {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)

	resp, err := protocol.DecodeResponse(data)
	require.NoError(t, err)

	return resp
}

func receiveNothing(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))

	_, data, err := conn.ReadMessage()
	if err == nil {
		resp, _ := protocol.DecodeResponse(data)
		t.Fatalf("unexpected message: %#v", resp)
	}
}

func authenticate(t *testing.T, conn *websocket.Conn, id *uuid.UUID) uuid.UUID {
	t.Helper()

	send(t, conn, protocol.Authenticate{Version: protocol.Version, InstallationID: id})

	adopt, ok := receive(t, conn).(protocol.AdoptInstallationID)
	require.True(t, ok, "expected AdoptInstallationID first")

	return adopt.InstallationID
}

func TestFreshInstallationIsAdoptedAndReplayed(t *testing.T) {
	ts := setUpServer(t, time.Hour)

	first := ts.dial(t)
	id := authenticate(t, first, nil)
	assert.NotEqual(t, uuid.Nil, id)

	require.Eventually(t, func() bool { return ts.Registry().Connected(id) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return !ts.Registry().Connected(id) }, 5*time.Second, 10*time.Millisecond)

	second := ts.dial(t)
	assert.Equal(t, id, authenticate(t, second, &id), "known installation ids are never replaced")
	receiveNothing(t, second, 100*time.Millisecond)
}

func TestNilInstallationIDIsReplaced(t *testing.T) {
	ts := setUpServer(t, time.Hour)

	nilID := uuid.Nil
	id := authenticate(t, ts.dial(t), &nilID)
	assert.NotEqual(t, uuid.Nil, id)
}

func TestVersionMismatchIsRejected(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	conn := ts.dial(t)

	id := uuid.New()
	send(t, conn, protocol.Authenticate{Version: "0.0.0-other", InstallationID: &id})

	resp, ok := receive(t, conn).(protocol.Error)
	require.True(t, ok)
	require.NotNil(t, resp.Message)
	assert.Contains(t, *resp.Message, "incompatible protocol version")
	assert.Equal(t, 0, ts.Registry().Len())

	// The connection stays usable for a compatible retry.
	assert.Equal(t, id, authenticate(t, conn, &id))
}

func TestMalformedMessageIsDropped(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	conn := ts.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0x01}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	authenticate(t, conn, nil)
}

func TestAuthenticationURLBeforeAuthenticateIsIgnored(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	conn := ts.dial(t)

	send(t, conn, protocol.AuthenticationURL{})
	receiveNothing(t, conn, 100*time.Millisecond)
}

func TestAuthenticationURLNamesInstallation(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	conn := ts.dial(t)
	id := authenticate(t, conn, nil)

	send(t, conn, protocol.AuthenticationURL{})

	resp, ok := receive(t, conn).(protocol.AuthenticateAtURL)
	require.True(t, ok)

	u, err := url.Parse(resp.URL)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:7878/auth/itchio_callback", u.Query().Get("redirect_uri"))

	got, err := ts.OAuth().VerifyState(u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestLinkedInstallationIsAuthenticated(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	ctx := context.Background()

	id := uuid.New()
	account, err := ts.store.LinkInstallation(ctx, id, 7, "ada", "token")
	require.NoError(t, err)

	conn := ts.dial(t)
	authenticate(t, conn, &id)

	resp, ok := receive(t, conn).(protocol.Authenticated)
	require.True(t, ok)
	assert.Equal(t, account, resp.Profile.ID)
	assert.Equal(t, "ada", resp.Profile.Username)

	got, ok := ts.Registry().AccountOf(id)
	require.True(t, ok)
	assert.Equal(t, account, got)
}

func TestBrowserLoginTargetsOnlyThatInstallation(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	ctx := context.Background()

	itch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":7,"username":"ada","display_name":"Ada"}}`))
	}))
	defer itch.Close()
	ts.OAuth().ProfileURL = itch.URL

	sibling := uuid.New()
	_, err := ts.store.LinkInstallation(ctx, sibling, 7, "ada", "old-token")
	require.NoError(t, err)

	siblingConn := ts.dial(t)
	authenticate(t, siblingConn, &sibling)
	_, ok := receive(t, siblingConn).(protocol.Authenticated)
	require.True(t, ok)

	conn := ts.dial(t)
	id := authenticate(t, conn, nil)
	require.Eventually(t, func() bool { return ts.Registry().Connected(id) }, 5*time.Second, 10*time.Millisecond)

	link, err := ts.OAuth().AuthorizationURL(id)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)

	form := url.Values{}
	form.Set("access_token", "new-token")
	form.Set("state", u.Query().Get("state"))

	resp, err := http.PostForm(ts.http.URL+"/auth/receive_token", form)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	authenticated, ok := receive(t, conn).(protocol.Authenticated)
	require.True(t, ok)
	assert.Equal(t, "ada", authenticated.Profile.Username)

	receiveNothing(t, siblingConn, 200*time.Millisecond)

	assert.ElementsMatch(t, []uuid.UUID{sibling, id}, ts.Registry().InstallationsOf(authenticated.Profile.ID))

	// The state was spent by the first post.
	resp, err = http.PostForm(ts.http.URL+"/auth/receive_token", form)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginForDisconnectedInstallationIsIgnored(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	ctx := context.Background()

	id := uuid.New()
	_, err := ts.store.LinkInstallation(ctx, id, 7, "ada", "token")
	require.NoError(t, err)

	ts.handleLogin(ctx, id.String())
	ts.handleLogin(ctx, "not a uuid")

	assert.Equal(t, 0, ts.Registry().Len())
	assert.Empty(t, ts.Registry().Accounts())
}

func TestTickBroadcastsWorld(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, ts.tick(ctx), "a tick with nobody connected does nothing")

	id := uuid.New()
	account, err := ts.store.LinkInstallation(ctx, id, 7, "ada", "token")
	require.NoError(t, err)

	conn := ts.dial(t)
	authenticate(t, conn, &id)
	_, ok := receive(t, conn).(protocol.Authenticated)
	require.True(t, ok)

	observer := ts.dial(t)
	authenticate(t, observer, nil)
	require.Eventually(t, func() bool { return ts.Registry().Len() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ts.tick(ctx))

	for _, c := range []*websocket.Conn{conn, observer} {
		update, ok := receive(t, c).(protocol.WorldUpdate)
		require.True(t, ok)
		require.Len(t, update.Profiles, 1)
		assert.Equal(t, account, update.Profiles[0].ID)
		assert.Equal(t, update.Timestamp, update.Profiles[0].LastUpdateTimestamp)
	}
}

func TestUpdateMovesAccount(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	ctx := context.Background()

	id := uuid.New()
	_, err := ts.store.LinkInstallation(ctx, id, 7, "ada", "token")
	require.NoError(t, err)

	conn := ts.dial(t)
	authenticate(t, conn, &id)
	_, ok := receive(t, conn).(protocol.Authenticated)
	require.True(t, ok)

	send(t, conn, protocol.Update{
		Inputs:    &protocol.Inputs{HorizontalMovement: 5},
		XOffset:   50,
		Timestamp: protocol.Now(),
	})

	require.Eventually(t, func() bool {
		profile, err := ts.store.InstallationProfile(ctx, id)
		return err == nil && profile.XOffset == 50 && profile.HorizontalInput == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNonFiniteUpdateIsDropped(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	ctx := context.Background()

	id := uuid.New()
	_, err := ts.store.LinkInstallation(ctx, id, 7, "ada", "token")
	require.NoError(t, err)

	conn := ts.dial(t)
	authenticate(t, conn, &id)
	_, ok := receive(t, conn).(protocol.Authenticated)
	require.True(t, ok)

	before, err := ts.store.InstallationProfile(ctx, id)
	require.NoError(t, err)

	send(t, conn, protocol.Update{XOffset: math.NaN(), Timestamp: protocol.Now()})
	send(t, conn, protocol.Update{
		Inputs:    &protocol.Inputs{HorizontalMovement: math.Inf(1)},
		XOffset:   30,
		Timestamp: protocol.Now(),
	})
	send(t, conn, protocol.AuthenticationURL{})

	_, ok = receive(t, conn).(protocol.AuthenticateAtURL)
	require.True(t, ok, "the connection survives and no error is sent back")

	after, err := ts.store.InstallationProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.XOffset, after.XOffset)
	assert.Equal(t, before.HorizontalInput, after.HorizontalInput)
}

func TestUpdateWithoutAccountIsIgnored(t *testing.T) {
	ts := setUpServer(t, time.Hour)
	ctx := context.Background()

	conn := ts.dial(t)
	id := authenticate(t, conn, nil)

	send(t, conn, protocol.Update{
		Inputs:    &protocol.Inputs{HorizontalMovement: 1},
		XOffset:   50,
		Timestamp: protocol.Now(),
	})
	send(t, conn, protocol.AuthenticationURL{})

	_, ok := receive(t, conn).(protocol.AuthenticateAtURL)
	require.True(t, ok, "the update is ignored without an error")

	_, err := ts.store.InstallationProfile(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotLinked)
	assert.Empty(t, ts.Registry().Accounts())
}

func TestProfileRoutesFollowFlag(t *testing.T) {
	ts := setUpServer(t, time.Hour)

	resp, err := http.Get(ts.http.URL + "/pprof/cmdline")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ts.cfg.Profile = true
	ts.cfg.Prefix = "/game"
	profiled := httptest.NewServer(ts.Handler())
	defer profiled.Close()

	for _, path := range []string{"/game/pprof/cmdline", "/game/pprof/heap", "/game/pprof/goroutine"} {
		resp, err := http.Get(profiled.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestErrorDrainStopsWithContext(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	srv := &Server{log: log}

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		srv.drainErrors(ctx, errs)
		close(done)
	}()

	report(errs, errors.New("broken pipe"))
	require.Eventually(t, func() bool {
		entry := hook.LastEntry()
		return entry != nil && strings.Contains(entry.Message, "broken pipe")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain kept running after its context was done")
	}

	report(errs, errors.New("first"))
	report(errs, errors.New("second"))
	assert.Len(t, errs, 1, "reports never block once nobody drains them")
}

func TestPingReportsRoundtrip(t *testing.T) {
	ts := setUpServer(t, 20*time.Millisecond)
	conn := ts.dial(t)
	authenticate(t, conn, nil)

	for i := 0; i < 50; i++ {
		ping, ok := receive(t, conn).(protocol.Ping)
		require.True(t, ok)

		if ping.AverageRoundtrip > 0 {
			assert.Less(t, ping.AverageRoundtrip, 5.0)
			return
		}

		send(t, conn, protocol.Pong{OriginalTimestamp: ping.Timestamp, Timestamp: protocol.Now()})
	}

	t.Fatal("round trip was never measured")
}

func TestHousekeepingRoutes(t *testing.T) {
	ts := setUpServer(t, time.Hour)

	for path, want := range map[string]string{
		"/healthz":    "Ok\n",
		"/robots.txt": "Disallow: /",
		"/version":    "protocol " + protocol.Version,
	} {
		resp, err := http.Get(ts.http.URL + path)
		require.NoError(t, err)

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, string(body), want, path)
		assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"), path)
	}

	resp, err := http.Get(ts.http.URL + "/auth/itchio_callback")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `src="callback.js"`)
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:         7878,
			BaseURL:      "https://cantina.example/",
			Prefix:       "/game/",
			Database:     "cantina.db",
			TickInterval: 100 * time.Millisecond,
			PingInterval: time.Second,
		}
	}

	cfg := base()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/game", cfg.Prefix)
	assert.Equal(t, "https://cantina.example/game/auth/itchio_callback", cfg.CallbackURL())
	assert.Equal(t, "http", cfg.Scheme())

	cfg = base()
	cfg.TLSCert = "cert.pem"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.TickInterval = 0
	assert.Error(t, cfg.Validate())
}
