package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/conneroisu/gstdots/internal/artifact"
	"github.com/conneroisu/gstdots/internal/fanout"
	"github.com/conneroisu/gstdots/internal/metrics"
	"github.com/conneroisu/gstdots/internal/pipeline"
	"github.com/conneroisu/gstdots/internal/registry"
)

type fixedStatuses []pipeline.Status

func (f fixedStatuses) Statuses() []pipeline.Status { return f }

type fixture struct {
	out      string
	registry *registry.Registry
	hub      *fanout.Hub
	server   *httptest.Server
}

func newFixture(t *testing.T, statuses Statuses) *fixture {
	t.Helper()
	out := t.TempDir()
	reg := registry.New(out)
	hub := fanout.New()
	srv := New(Config{Title: "Graphs <test>"}, artifact.DefaultLayout(out), reg, statuses, hub,
		WithMetrics(metrics.New()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		ts.Close()
	})
	return &fixture{out: out, registry: reg, hub: hub, server: ts}
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

// cardPaths returns the data-path of every gallery card in document order.
func cardPaths(t *testing.T, page string) []string {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	var paths []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "li" {
			for _, a := range n.Attr {
				if a.Key == "data-path" {
					paths = append(paths, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return paths
}

func TestIndexRendersSnapshotInOrder(t *testing.T) {
	f := newFixture(t, nil)
	f.registry.Add("b.html")
	f.registry.Add("a.html")

	resp, body := f.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, []string{"b.html", "a.html"}, cardPaths(t, body))
	assert.Contains(t, body, `src="/artifacts/b.svg"`)
	assert.Contains(t, body, "Graphs &lt;test&gt;")
	assert.Contains(t, body, `new WebSocket(`)
}

func TestIndexEmpty(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.get(t, "/")
	assert.Empty(t, cardPaths(t, body))
	assert.Contains(t, body, "No graphs yet")
}

func TestUnknownPathIsNotFound(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := f.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGraphsAPI(t *testing.T) {
	f := newFixture(t, nil)
	f.registry.Add("0.00.01.000000000-pipeline0.PAUSED_PLAYING.html")

	resp, body := f.get(t, "/api/graphs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got GraphsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got.Graphs, 1)
	assert.Equal(t, GraphView{
		Path:  "0.00.01.000000000-pipeline0.PAUSED_PLAYING.html",
		Name:  "0.00.01.000000000-pipeline0.PAUSED_PLAYING.html",
		Title: "Pipeline0 · Paused Playing",
		Image: "/artifacts/0.00.01.000000000-pipeline0.PAUSED_PLAYING.svg",
		Page:  "/artifacts/0.00.01.000000000-pipeline0.PAUSED_PLAYING.html",
	}, got.Graphs[0])
}

func TestGraphsAPIEscapesLinks(t *testing.T) {
	f := newFixture(t, nil)
	name := "run #1?50%.html"
	require.NoError(t, os.WriteFile(filepath.Join(f.out, name), []byte("page"), 0o644))
	f.registry.Add(name)

	_, body := f.get(t, "/api/graphs")
	var got GraphsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got.Graphs, 1)
	assert.Equal(t, "/artifacts/run%20%231%3F50%25.html", got.Graphs[0].Page)
	assert.Equal(t, "/artifacts/run%20%231%3F50%25.svg", got.Graphs[0].Image)

	resp, page := f.get(t, got.Graphs[0].Page)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "page", page)
}

func TestGraphsAPIEmptyIsArray(t *testing.T) {
	f := newFixture(t, nil)

	_, body := f.get(t, "/api/graphs")
	assert.JSONEq(t, `{"graphs":[]}`, body)
}

func TestStatusAPI(t *testing.T) {
	statuses := fixedStatuses{{Path: "/dots/a.dot", Image: "/out/a.svg", Page: "/out/a.html", State: pipeline.StateRendered}}
	f := newFixture(t, statuses)
	f.registry.Add("a.html")

	_, body := f.get(t, "/api/status")

	var got struct {
		Graphs  int `json:"graphs"`
		Viewers int `json:"viewers"`
		Sources []struct {
			Path  string `json:"path"`
			State string `json:"state"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, 1, got.Graphs)
	assert.Equal(t, 0, got.Viewers)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "rendered", got.Sources[0].State)
}

func TestArtifactsAreServed(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(f.out, "a.svg"), []byte("<svg/>"), 0o644))

	resp, body := f.get(t, "/artifacts/a.svg")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<svg/>", body)

	resp, _ = f.get(t, "/artifacts/missing.svg")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"healthy"`)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, body = f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "gstdots_registry_entries")
}

func TestWebsocketThroughMiddleware(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.hub.Refresh()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"refresh"`)
}

func TestStartAndShutdown(t *testing.T) {
	out := t.TempDir()
	hub := fanout.New()
	defer hub.Shutdown(context.Background())

	srv := New(Config{Host: "127.0.0.1", Port: 0}, artifact.DefaultLayout(out), registry.New(out), nil, hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestDisplayTitle(t *testing.T) {
	testCases := []struct {
		stem     string
		expected string
	}{
		{"pipeline", "Pipeline"},
		{"my_graph", "My Graph"},
		{"0.00.00.123456789-pipeline0.NULL_READY", "Pipeline0 · Null Ready"},
		{"camera-feed", "Camera Feed"},
	}

	for _, tc := range testCases {
		t.Run(tc.stem, func(t *testing.T) {
			assert.Equal(t, tc.expected, DisplayTitle(tc.stem))
		})
	}
}
