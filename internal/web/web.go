package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"daygrid/internal/agenda"
	"daygrid/internal/chrono"
	"daygrid/internal/config"
	appLog "daygrid/internal/log"
	"daygrid/internal/metrics"
	"daygrid/internal/model"
	"daygrid/internal/render"
	"daygrid/internal/timetable"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the agenda and its day layouts over HTTP.
type Server struct {
	cfg     *config.Config
	svc     *agenda.Service
	metrics *metrics.Metrics
	mux     *http.ServeMux
	now     func() time.Time
}

// NewServer constructs a new Server. m may be nil, in which case /metrics
// is not registered.
func NewServer(cfg *config.Config, svc *agenda.Service, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: m,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password leaves auth off.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="daygrid", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Listen binds cfg.Listen. Requests made after it returns wait for Serve
// instead of being refused.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("web: listen: %w", err)
	}
	return ln, nil
}

// Serve accepts on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/layout", s.handleLayout)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /day.svg", s.handleDaySVG)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured PNG from disk.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	// http.ServeFile maps a missing file to 404.
	http.ServeFile(w, r, s.cfg.Capture.Output)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	UpdatedAt       time.Time       `json:"updated_at"`
	FetchErrors     int             `json:"fetch_errors"`
	DisplayTimeZone string          `json:"display_timezone"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	SourceID    string    `json:"source_id"`
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

func toDTO(occ model.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		SourceID:    occ.SourceID,
		UID:         occ.UID,
		InstanceKey: occ.InstanceKey,
		Summary:     occ.Summary,
		Description: occ.Description,
		Location:    occ.Location,
		AllDay:      occ.AllDay,
		Start:       occ.Start,
		End:         occ.End,
	}
}

// handleEvents returns the occurrences of the current agenda snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	snap := s.svc.Snapshot()

	dtos := make([]occurrenceDTO, 0, len(snap.Occurrences))
	for _, occ := range snap.Occurrences {
		dtos = append(dtos, toDTO(occ))
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Occurrences:     dtos,
		TruncatedUIDs:   snap.Truncated,
		RangeStart:      snap.RangeStart,
		RangeEnd:        snap.RangeEnd,
		UpdatedAt:       snap.UpdatedAt,
		FetchErrors:     snap.FetchErrors,
		DisplayTimeZone: s.svc.Location().String(),
	})
}

// handleRefresh refreshes the agenda synchronously.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Refresh(r.Context()); err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	snap := s.svc.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"occurrences":  len(snap.Occurrences),
		"fetch_errors": snap.FetchErrors,
		"updated_at":   snap.UpdatedAt,
	})
}

// layoutResponse is the JSON response shape for /api/layout.
type layoutResponse struct {
	Date        string       `json:"date"`
	Step        string       `json:"step"`
	Orientation string       `json:"orientation"`
	Width       float64      `json:"width"`
	Height      float64      `json:"height"`
	Lanes       int          `json:"lanes"`
	Slots       int          `json:"slots"`
	Items       []layoutItem `json:"items"`
}

type layoutItem struct {
	occurrenceDTO
	BeginTime  int            `json:"begin_time"`
	EndTime    int            `json:"end_time"`
	BeginCross int            `json:"begin_cross"`
	EndCross   int            `json:"end_cross"`
	Rect       timetable.Rect `json:"rect"`
}

// handleLayout returns the scaled layout of one day.
//
// GET /api/layout?date=2024-03-05&step=15min&orientation=vertical
//   - date:        YYYY-MM-DD in the display timezone (default today)
//   - step:        "<n>min" or "<n>h" (default layout.step)
//   - orientation: horizontal | vertical (default layout.orientation)
//   - time_size, cross_size, cross_extent: override the layout scale
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	day, opts, err := s.layoutQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sm, err := s.svc.ScaledDay(day, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := make([]layoutItem, 0, len(sm.Items))
	for _, it := range sm.Items {
		items = append(items, layoutItem{
			occurrenceDTO: toDTO(it.Item),
			BeginTime:     it.BeginTime,
			EndTime:       it.EndTime,
			BeginCross:    it.BeginCross,
			EndCross:      it.EndCross,
			Rect:          it.Rect,
		})
	}

	writeJSON(w, http.StatusOK, layoutResponse{
		Date:        day.Format(time.DateOnly),
		Step:        chrono.FormatStep(sm.Model.Step),
		Orientation: string(sm.Orientation),
		Width:       sm.Width,
		Height:      sm.Height,
		Lanes:       sm.Model.MaxCross,
		Slots:       sm.Model.MaxTime,
		Items:       items,
	})
}

// handleDaySVG draws one day; it takes the same query as /api/layout.
func (s *Server) handleDaySVG(w http.ResponseWriter, r *http.Request) {
	day, opts, err := s.layoutQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sm, err := s.svc.ScaledDay(day, opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := render.SVG(w, sm, render.Options{Now: s.now()}); err != nil {
		appLog.Error("svg write failed", err, "date", day.Format(time.DateOnly))
	}
}

func (s *Server) layoutQuery(r *http.Request) (time.Time, agenda.LayoutOptions, error) {
	q := r.URL.Query()
	loc := s.svc.Location()

	day := s.now().In(loc)
	if v := q.Get("date"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, loc)
		if err != nil {
			return time.Time{}, agenda.LayoutOptions{}, fmt.Errorf("date %q: want YYYY-MM-DD", v)
		}
		day = d
	}

	scale, err := s.cfg.Layout.Scale()
	if err != nil {
		return time.Time{}, agenda.LayoutOptions{}, err
	}
	opts := agenda.LayoutOptions{Step: s.svc.Step(), Scale: scale}

	if v := q.Get("step"); v != "" {
		step, err := chrono.ParseStep(v)
		if err != nil {
			return time.Time{}, agenda.LayoutOptions{}, err
		}
		opts.Step = step
	}
	if v := q.Get("orientation"); v != "" {
		o, err := timetable.ParseOrientation(v)
		if err != nil {
			return time.Time{}, agenda.LayoutOptions{}, err
		}
		opts.Scale.Orientation = o
	}

	sizes := []struct {
		key string
		dst *float64
	}{
		{"time_size", &opts.Scale.TimeSize},
		{"cross_size", &opts.Scale.CrossSize},
		{"cross_extent", &opts.Scale.CrossExtent},
	}
	for _, sz := range sizes {
		v := q.Get(sz.key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return time.Time{}, agenda.LayoutOptions{}, fmt.Errorf("%s %q: want a non-negative number", sz.key, v)
		}
		*sz.dst = f
	}
	return day, opts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
