package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gnss-bridge/internal/bus"
	"gnss-bridge/internal/geofence"
	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/model"
)

// Deps are the components the HTTP surface reads from or drives. Status and
// Bus are required; the rest may be nil.
type Deps struct {
	Bus       *bus.Bus
	Status    *Status
	Geofences *geofence.Registry
	Logs      *LogBuffer
	Nmea      *NmeaTail
	Feed      *Broadcaster
	// Config is the effective configuration, already redacted.
	Config any
	Logger *slog.Logger
}

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	log := d.Logger.With("component", "web")
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Status.Snapshot(time.Now().UTC()))
	}))

	mux.HandleFunc("/api/location", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if d.Status.Device == nil {
			http.Error(w, "device unavailable", http.StatusServiceUnavailable)
			return
		}
		snap := d.Status.Device.Snapshot()
		if snap.LastFix == nil {
			http.Error(w, "no fix", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snap.LastFix)
	}))

	mux.HandleFunc("/api/satellites", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if d.Status.Device == nil {
			http.Error(w, "device unavailable", http.StatusServiceUnavailable)
			return
		}
		sats := d.Status.Device.Snapshot().Satellites
		writeJSON(w, http.StatusOK, struct {
			InView     int             `json:"in_view"`
			Used       int             `json:"used"`
			Satellites []model.SatInfo `json:"satellites"`
		}{len(sats), sats.UsedCount(), sats.Sorted()})
	}))

	mux.HandleFunc("/api/nmea", getOnly(func(w http.ResponseWriter, r *http.Request) {
		tail := 100
		if s := strings.TrimSpace(r.URL.Query().Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			tail = v
		}
		lines, total := d.Nmea.Snapshot(tail)
		if lines == nil {
			lines = []NmeaLine{}
		}
		if strings.EqualFold(r.URL.Query().Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			for _, l := range lines {
				_, _ = fmt.Fprintf(w, "%s\r\n", l.Sentence)
			}
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Total uint64     `json:"total"`
			Lines []NmeaLine `json:"lines"`
		}{total, lines})
	}))

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	if d.Config != nil {
		mux.HandleFunc("/api/config", getOnly(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, d.Config)
		}))
	}

	mux.HandleFunc("POST /api/navigation/{action}", func(w http.ResponseWriter, r *http.Request) {
		action := r.PathValue("action")
		code, ok := control(d.Bus, action)
		if !ok {
			http.NotFound(w, r)
			return
		}
		log.Info("navigation request", "action", action, "code", code)
		status := http.StatusOK
		switch {
		case code == bus.StatusNoHandler:
			status = http.StatusServiceUnavailable
		case code != 0:
			status = http.StatusConflict
		}
		writeJSON(w, status, wsControlResult{Action: action, Code: code, OK: code == 0})
	})

	if d.Geofences != nil {
		registerGeofenceRoutes(mux, d.Geofences)
	}

	if d.Feed != nil {
		mux.HandleFunc("/ws", liveHandler(d.Feed, d.Bus, log))
	}

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprint(w, indexHTML)
	}))

	return mux
}

type geofenceResult struct {
	ID     model.GeofenceID `json:"id"`
	Status string           `json:"status"`
	Code   int              `json:"code"`
}

func registerGeofenceRoutes(mux *http.ServeMux, reg *geofence.Registry) {
	reply := func(w http.ResponseWriter, id model.GeofenceID, st model.OperationStatus) {
		code := http.StatusOK
		switch st {
		case model.OperationSuccess:
		case model.OperationIDUnknown:
			code = http.StatusNotFound
		case model.OperationIDExists, model.OperationTooManyGeofences:
			code = http.StatusConflict
		default:
			code = http.StatusBadRequest
		}
		writeJSON(w, code, geofenceResult{ID: id, Status: st.String(), Code: int(st)})
	}
	pathID := func(w http.ResponseWriter, r *http.Request) (model.GeofenceID, bool) {
		v, err := strconv.ParseInt(r.PathValue("id"), 10, 32)
		if err != nil {
			http.Error(w, "invalid geofence id", http.StatusBadRequest)
			return 0, false
		}
		return model.GeofenceID(v), true
	}

	mux.HandleFunc("GET /api/geofences", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reg.List())
	})
	mux.HandleFunc("POST /api/geofences", func(w http.ResponseWriter, r *http.Request) {
		var def model.GeofenceDefinition
		if err := decodeJSON(w, r, &def); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply(w, def.ID, reg.Add(def))
	})
	mux.HandleFunc("DELETE /api/geofences/{id}", func(w http.ResponseWriter, r *http.Request) {
		if id, ok := pathID(w, r); ok {
			reply(w, id, reg.Remove(id))
		}
	})
	mux.HandleFunc("POST /api/geofences/{id}/pause", func(w http.ResponseWriter, r *http.Request) {
		if id, ok := pathID(w, r); ok {
			reply(w, id, reg.Pause(id))
		}
	})
	mux.HandleFunc("POST /api/geofences/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var body struct {
			Transitions model.TransitionFlags `json:"transitions"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply(w, id, reg.Resume(id, body.Transitions))
	})
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// Serve runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

const indexHTML = `<!doctype html>
<html><head><meta charset="utf-8"><title>gnss-bridge</title></head>
<body>
<h1>gnss-bridge</h1>
<ul>
<li><a href="/api/status">/api/status</a></li>
<li><a href="/api/location">/api/location</a></li>
<li><a href="/api/satellites">/api/satellites</a></li>
<li><a href="/api/nmea?format=text">/api/nmea</a></li>
<li><a href="/api/geofences">/api/geofences</a></li>
<li><a href="/api/logs?format=text">/api/logs</a></li>
<li><a href="/metrics">/metrics</a></li>
</ul>
<pre id="feed"></pre>
<script>
const feed = document.getElementById("feed");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (m) => {
  const ev = JSON.parse(m.data);
  if (ev.type === "nmea") {
    feed.textContent = (ev.data + "\n" + feed.textContent).slice(0, 8000);
  }
};
</script>
</body></html>
`
