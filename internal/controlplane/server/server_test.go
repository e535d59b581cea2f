package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botdash/internal/app"
	"github.com/betbot/botdash/internal/botapi/botapitest"
	"github.com/betbot/botdash/internal/botsync"
	"github.com/betbot/botdash/pkg/config"
)

type fixture struct {
	remote *botapitest.Server
	env    *app.Environment
	srv    *Server
	http   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	remote := botapitest.NewServer()
	t.Cleanup(remote.Close)
	remote.AddFile("demo-abc123.html")

	cfg := config.Default()
	cfg.Backend.LocalURL = remote.URL
	cfg.Storage.Backend = "file"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "store")
	cfg.Sync.MinRefreshInterval = 0
	cfg.Sync.PollInterval = 0
	cfg.Sync.Retry.BaseDelay = time.Millisecond
	cfg.Sync.ImageRetry.BaseDelay = time.Millisecond

	env, err := app.NewEnvironment(app.Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close(context.Background()) })

	srv := New(Config{Bots: env.Sync, Probe: env.Prober, BackendURL: env.Backend.Get})
	env.OnChange(srv.PublishSnapshot)
	env.OnNotice(srv.PublishNotice)
	t.Cleanup(func() { _ = srv.Close() })

	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)

	require.NoError(t, env.Sync.Refresh(context.Background()))
	return &fixture{remote: remote, env: env, srv: srv, http: hs}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthzAndRequestID(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, _ := http.NewRequest(http.MethodGet, f.http.URL+"/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "req-42", resp2.Header.Get("X-Request-Id"))
}

func TestBotsListAndGet(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/bots", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bots := body["bots"].([]any)
	require.Len(t, bots, 1)
	assert.Equal(t, "abc123", bots[0].(map[string]any)["code"])

	resp, body = f.do(t, http.MethodGet, "/api/bots/abc123", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, f.remote.URL+"/agent/demo/abc123", body["url"])

	resp, _ = f.do(t, http.MethodGet, "/api/bots/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateBot(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/bots", map[string]string{"name": "Help Desk", "apiKey": "sk-x"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	code := body["code"].(string)
	assert.Len(t, code, botsync.CodeLength)
	assert.Contains(t, f.remote.Files(), "help-desk-"+code+".html")

	resp, body = f.do(t, http.MethodPost, "/api/bots", map[string]string{"name": "", "apiKey": "sk"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "name is required", body["error"])
}

func TestUpdateTextAndImage(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/api/bots/abc123/texts/chatboxText", map[string]string{"text": "Hello there"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello there", body["chatboxText"])
	v, _ := f.remote.Resource("/chatbox_text/abc123")
	assert.Equal(t, "Hello there", v)

	resp, body = f.do(t, http.MethodPut, "/api/bots/abc123/texts/font", map[string]string{"text": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "textType is required", body["error"])

	resp, body = f.do(t, http.MethodPut, "/api/bots/abc123/images/headerImage", map[string]string{"image_data": "data:image/png;base64,SEVBRA=="})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "data:image/png;base64,SEVBRA==", body["headerImage"])

	resp, _ = f.do(t, http.MethodPut, "/api/bots/abc123/images/headerImage", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMultipartUploadEncodesDataURI(t *testing.T) {
	f := newFixture(t)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="icon.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, _ = part.Write(png)
	require.NoError(t, mw.Close())

	req, _ := http.NewRequest(http.MethodPut, f.http.URL+"/api/bots/abc123/images/chatIcon", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	v, ok := f.remote.Resource("/get_chatIcon/abc123")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(v, "data:image/png;base64,"))
	assert.Contains(t, f.remote.Files(), "demo-abc123-chaticon.png")
}

func TestDeleteBot(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodDelete, "/api/bots/abc123?name=demo", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, f.env.Sync.Snapshot().Bots)
	assert.NotContains(t, f.remote.Files(), "demo-abc123.html")

	// 幂等
	resp, _ = f.do(t, http.MethodDelete, "/api/bots/abc123?name=demo", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRefreshUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.AddFile("second-XYZ1.html")

	resp, body := f.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["bots"], 2)

	// 有缓存时列表失败仍然返回 200
	f.remote.FailList(true)
	resp, body = f.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["bots"], 2)
}

func TestConnectivity(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/connectivity", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, f.remote.URL, body["backend_url"])

	f.remote.SetHealthy(false)
	_, body = f.do(t, http.MethodGet, "/api/connectivity", nil)
	assert.Equal(t, true, body["success"], "cached within cooldown")

	_, body = f.do(t, http.MethodPost, "/api/connectivity/retry", nil)
	assert.Equal(t, false, body["success"])
}

func TestUIAndPlaceholder(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.http.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp, err = http.Get(f.http.URL + "/placeholder.svg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var fr frame
	require.NoError(t, conn.ReadJSON(&fr))
	return fr
}

func TestWebSocketPushesSnapshotsAndNotices(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	require.Equal(t, "snapshot", first.Type)
	require.Len(t, first.Snapshot.Bots, 1)
	require.Eventually(t, func() bool { return f.srv.hub.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err = f.env.Sync.AddBot(context.Background(), "pushed", "sk")
	require.NoError(t, err)

	var got frame
	for got.Snapshot == nil || len(got.Snapshot.Bots) != 2 {
		got = readFrame(t, conn)
	}
	assert.Equal(t, "snapshot", got.Type)

	f.srv.PublishNotice(botsync.Notice{Level: botsync.LevelWarn, Message: "heads up"})
	var n frame
	for n.Type != "notice" {
		n = readFrame(t, conn)
	}
	assert.Equal(t, "heads up", n.Notice.Message)
}
