package botapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpclient "github.com/betbot/botdash/pkg/sdk/http"
)

type recorded struct {
	Method string
	Path   string
	Body   map[string]string
}

type fakeRemote struct {
	mu       sync.Mutex
	requests []recorded
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path}
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	if f.handler != nil {
		f.handler(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true}`)
}

func (f *fakeRemote) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newClient(t *testing.T, f *fakeRemote) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(httpclient.NewClientWithHost(srv.URL))
}

func TestListBotFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{name: "comma joined", body: `{"files":"demo-abc123.html, other-XYZ9.html"}`, want: []string{"demo-abc123.html", "other-XYZ9.html"}},
		{name: "empty string", body: `{"files":""}`, want: []string{}},
		{name: "missing", body: `{}`, want: []string{}},
		{name: "array", body: `{"files":["a-1.html"," ","b-2.html"]}`, want: []string{"a-1.html", "b-2.html"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRemote{handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}}
			got, err := newClient(t, f).ListBotFiles(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "/get-bots-files", f.last().Path)
		})
	}
}

func TestWritePayloads(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(c *Client) error
		want recorded
	}{
		{
			name: "create",
			call: func(c *Client) error { return c.CreateBot(ctx, "my-bot-abc", "sk-1") },
			want: recorded{Method: "POST", Path: "/generate-html", Body: map[string]string{"filename": "my-bot-abc", "apiKey": "sk-1"}},
		},
		{
			name: "chat icon",
			call: func(c *Client) error { return c.SaveImage(ctx, ImageChatIcon, "abc", "my-bot-abc", "data:x") },
			want: recorded{Method: "POST", Path: "/chatIconSave", Body: map[string]string{"bot_code": "abc", "filename": "my-bot-abc-chaticon.png", "image_data": "data:x"}},
		},
		{
			name: "bot icon",
			call: func(c *Client) error { return c.SaveImage(ctx, ImageBotIcon, "abc", "my-bot-abc", "data:y") },
			want: recorded{Method: "POST", Path: "/botIconSave", Body: map[string]string{"bot_code": "abc", "filename": "my-bot-abc-boticon.png", "image_data": "data:y"}},
		},
		{
			name: "background",
			call: func(c *Client) error { return c.SaveImage(ctx, ImageBackground, "abc", "my-bot-abc", "data:z") },
			want: recorded{Method: "POST", Path: "/bgSave", Body: map[string]string{"code": "abc", "image": "data:z"}},
		},
		{
			name: "header",
			call: func(c *Client) error { return c.SaveImage(ctx, ImageHeader, "abc", "my-bot-abc", "data:h") },
			want: recorded{Method: "POST", Path: "/headerImg", Body: map[string]string{"code": "abc", "image": "data:h"}},
		},
		{
			name: "chatbox text",
			call: func(c *Client) error { return c.SaveText(ctx, TextChatbox, "abc", "Hi!") },
			want: recorded{Method: "POST", Path: "/chatboxtext", Body: map[string]string{"text": "Hi!", "code": "abc"}},
		},
		{
			name: "gradient",
			call: func(c *Client) error { return c.SaveText(ctx, TextGradient, "abc", "linear-gradient(red, blue)") },
			want: recorded{Method: "POST", Path: "/chatgradient", Body: map[string]string{"gradient": "linear-gradient(red, blue)", "code": "abc"}},
		},
		{
			name: "delete primary",
			call: func(c *Client) error { return c.DeleteBotFile(ctx, "my-bot-abc") },
			want: recorded{Method: "DELETE", Path: "/delete-file/my-bot-abc.html"},
		},
		{
			name: "delete media",
			call: func(c *Client) error { return c.DeleteMedia(ctx, "my-bot-abc", MediaBackground) },
			want: recorded{Method: "DELETE", Path: "/delete-file/my-bot-abc-bg.png"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRemote{}
			require.NoError(t, tt.call(newClient(t, f)))
			assert.Equal(t, tt.want, f.last())
		})
	}
}

func TestUnknownKinds(t *testing.T) {
	c := newClient(t, &fakeRemote{})
	assert.Error(t, c.SaveImage(context.Background(), "avatar", "abc", "x-abc", "d"))
	assert.Error(t, c.SaveText(context.Background(), "font", "abc", "d"))
	_, err := c.FetchResource(context.Background(), "avatar", "abc")
	assert.Error(t, err)
}

func TestFetchResourceValueKeys(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "image", body: `{"image":"data:a","data":"other"}`, want: "data:a"},
		{name: "image_data", body: `{"image_data":"data:b"}`, want: "data:b"},
		{name: "text", body: `{"text":"Hello"}`, want: "Hello"},
		{name: "plain text body", body: `just text`, want: "just text"},
		{name: "empty", body: `{}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRemote{handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}}
			got, err := newClient(t, f).FetchResource(context.Background(), ResourceChatIcon, "abc")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "/get_chatIcon/abc", f.last().Path)
		})
	}
}

func TestFetchResourceNotFound(t *testing.T) {
	f := &fakeRemote{handler: func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}}
	_, err := newClient(t, f).FetchResource(context.Background(), ResourceHeader, "abc")
	require.Error(t, err)
	assert.True(t, httpclient.IsNotFound(err))
	assert.Equal(t, "/header_img/abc", f.last().Path)
}

func TestResourceMappings(t *testing.T) {
	r, ok := ResourceForImage(ImageBackground)
	assert.True(t, ok)
	assert.Equal(t, "/get_bg", r.Endpoint())

	r, ok = ResourceForText(TextChatbox)
	assert.True(t, ok)
	assert.Equal(t, "/chatbox_text", r.Endpoint())

	_, ok = ResourceForText(TextGradient)
	assert.False(t, ok)
	assert.Len(t, Resources, 5)
}
