package web_test

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daygrid/internal/agenda"
	"daygrid/internal/config"
	"daygrid/internal/metrics"
	"daygrid/internal/web"
)

type layout struct {
	Date        string  `json:"date"`
	Step        string  `json:"step"`
	Orientation string  `json:"orientation"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Lanes       int     `json:"lanes"`
	Slots       int     `json:"slots"`
	Items       []struct {
		UID        string `json:"uid"`
		Summary    string `json:"summary"`
		BeginTime  int    `json:"begin_time"`
		EndTime    int    `json:"end_time"`
		BeginCross int    `json:"begin_cross"`
		Rect       struct {
			Left, Top, Width, Height float64
		} `json:"rect"`
	} `json:"items"`
}

func newServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.Capture.Output = filepath.Join(t.TempDir(), "preview.png")
	cfg.Items = []config.ItemConfig{
		{Label: "Standup", From: "2024-03-05T09:00:00Z", To: "2024-03-05T09:30:00Z"},
		{Label: "Pairing", From: "2024-03-05T09:15:00Z", To: "2024-03-05T11:00:00Z"},
		{Label: "Retro", From: "2024-03-05T10:00:00Z", To: "2024-03-05T11:00:00Z"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	m := metrics.New()
	svc, err := agenda.New(cfg, agenda.WithMetrics(m),
		agenda.WithClock(func() time.Time { return time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC) }))
	require.NoError(t, err)

	srv := httptest.NewServer(web.NewServer(cfg, svc, m).Handler())
	t.Cleanup(srv.Close)
	return srv, m
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, nil)
	resp := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	srv, _ := newServer(t, nil)
	resp := get(t, srv.URL+"/api/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Occurrences []struct {
			SourceID string    `json:"source_id"`
			UID      string    `json:"uid"`
			Summary  string    `json:"summary"`
			Start    time.Time `json:"start"`
		} `json:"occurrences"`
		DisplayTimeZone string `json:"display_timezone"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Occurrences, 3)
	assert.Equal(t, "UTC", body.DisplayTimeZone)
	assert.Equal(t, "static", body.Occurrences[0].SourceID)
	assert.Equal(t, "Standup", body.Occurrences[0].Summary)
}

func TestLayout(t *testing.T) {
	srv, _ := newServer(t, nil)
	resp := get(t, srv.URL+"/api/layout?date=2024-03-05&step=15min&orientation=horizontal&time_size=2&cross_size=30")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var l layout
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&l))
	assert.Equal(t, "2024-03-05", l.Date)
	assert.Equal(t, "15min", l.Step)
	assert.Equal(t, "horizontal", l.Orientation)
	assert.Equal(t, 96, l.Slots)
	assert.Equal(t, 2, l.Lanes)
	assert.Equal(t, 192.0, l.Width)
	assert.Equal(t, 60.0, l.Height)

	require.Len(t, l.Items, 3)
	lanes := map[string]int{}
	for _, it := range l.Items {
		lanes[it.Summary] = it.BeginCross
	}
	assert.Equal(t, map[string]int{"Standup": 0, "Pairing": 1, "Retro": 0}, lanes)
	assert.Equal(t, 36, l.Items[0].BeginTime)
	assert.Equal(t, 72.0, l.Items[0].Rect.Left)
	assert.Equal(t, 30.0, l.Items[1].Rect.Top)
}

func TestLayoutDefaultsFromConfig(t *testing.T) {
	srv, _ := newServer(t, func(c *config.Config) {
		c.Layout.Step = "1h"
		c.Layout.CrossExtent = 1
	})
	resp := get(t, srv.URL+"/api/layout?date=2024-03-05")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var l layout
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&l))
	assert.Equal(t, "1h", l.Step)
	assert.Equal(t, "vertical", l.Orientation)
	assert.Equal(t, 1.0, l.Width)
	assert.Equal(t, 24, l.Slots)
}

func TestLayoutBadRequest(t *testing.T) {
	srv, _ := newServer(t, nil)
	for _, q := range []string{
		"date=03/05/2024",
		"step=15",
		"step=0min",
		"orientation=diagonal",
		"time_size=-1",
		"cross_size=wide",
	} {
		t.Run(q, func(t *testing.T) {
			resp := get(t, srv.URL+"/api/layout?"+q)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var e struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestDaySVGAndMetrics(t *testing.T) {
	srv, _ := newServer(t, nil)
	resp := get(t, srv.URL+"/day.svg?date=2024-03-05")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `data-ready="true"`)
	assert.Equal(t, 3, strings.Count(string(body), `class="item"`))

	resp = get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)

	// One drawing is one layout.
	assert.Contains(t, string(body), `daygrid_layouts_total{kind="scaled"} 1`)
	assert.NotContains(t, string(body), `daygrid_layouts_total{kind="day"}`)
	assert.Contains(t, string(body), `daygrid_layout_lanes_count 1`)
}

func TestRefreshEndpoint(t *testing.T) {
	srv, _ := newServer(t, nil)

	resp := get(t, srv.URL+"/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPreview(t *testing.T) {
	var out string
	srv, _ := newServer(t, func(c *config.Config) { out = c.Capture.Output })

	resp := get(t, srv.URL+"/preview.png")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, os.WriteFile(out, []byte("\x89PNG\r\n\x1a\n"), 0o600))
	resp = get(t, srv.URL+"/preview.png")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "ada", Password: "s3cret"}
	})

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/health").StatusCode)

	resp := get(t, srv.URL+"/api/events")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.SetBasicAuth("ada", "wrong!")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("ada", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListenBeforeServe(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.Listen = "127.0.0.1:0"
	svc, err := agenda.New(cfg)
	require.NoError(t, err)
	srv := web.NewServer(cfg, svc, nil)

	ln, err := srv.Listen()
	require.NoError(t, err)

	// A request issued before Serve starts waits on the bound socket.
	type result struct {
		code int
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			got <- result{err: err}
			return
		}
		resp.Body.Close()
		got <- result{code: resp.StatusCode}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	r := <-got
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.code)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
