// Package montagehttp wraps the montage engine in an HTTP interface, so the
// acquisition can be driven by any client with a JSON library.  One Runner
// owns the instrument; concurrent run requests are refused.
package montagehttp

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/cmss-ltu/semontage/generichttp"
	"github.com/cmss-ltu/semontage/generichttp/locker"
	"github.com/cmss-ltu/semontage/imgrec"
	"github.com/cmss-ltu/semontage/montage"
	"github.com/cmss-ltu/semontage/sem"
)

// Status is the progress report served on the status route.
type Status struct {
	Running bool `json:"running"`
	Done    int  `json:"done"`
	Total   int  `json:"total"`

	// Summary is the last completed session, if any
	Summary *montage.Summary `json:"summary,omitempty"`

	Err string `json:"err,omitempty"`
}

// Runner owns one instrument connection and runs at most one session at a
// time.
type Runner struct {
	mu sync.Mutex

	drv sem.Controller
	rec *imgrec.Recorder

	// lock, when non-nil, is engaged for the duration of a run so the
	// rest of the route tree bounces with 423
	lock *locker.Locker

	running bool
	done    int
	total   int
	last    *montage.Summary
	lastErr string
	cancel  context.CancelFunc
}

// NewRunner returns a Runner bound to a driver and recorder.
func NewRunner(drv sem.Controller, rec *imgrec.Recorder, lock *locker.Locker) *Runner {
	return &Runner{drv: drv, rec: rec, lock: lock}
}

// Start launches a session in the background.  It returns false if one is
// already in flight.
func (rn *Runner) Start(req montage.Request) bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	rn.running = true
	rn.done, rn.total = 0, 0
	rn.lastErr = ""
	rn.cancel = cancel
	if rn.lock != nil {
		rn.lock.Lock()
	}

	s := &montage.Session{
		Drv: rn.drv,
		Rec: rn.rec,
		Req: req,
		OnTile: func(done, total int, res montage.TileResult) {
			rn.mu.Lock()
			rn.done, rn.total = done, total
			rn.mu.Unlock()
		},
	}
	go func() {
		sum, err := s.Run(ctx)
		cancel()
		rn.mu.Lock()
		defer rn.mu.Unlock()
		rn.running = false
		rn.last = &sum
		if err != nil {
			rn.lastErr = err.Error()
			log.Printf("montagehttp: session failed: %v", err)
		}
		if rn.lock != nil {
			rn.lock.Unlock()
		}
	}()
	return true
}

// Abort cancels the in-flight session, if any.  Stage restore and shutdown
// cleanup still run before the session returns.
func (rn *Runner) Abort() {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.running && rn.cancel != nil {
		rn.cancel()
	}
}

// Status returns a snapshot of the runner state.
func (rn *Runner) Status() Status {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return Status{
		Running: rn.running,
		Done:    rn.done,
		Total:   rn.total,
		Summary: rn.last,
		Err:     rn.lastErr,
	}
}

// HTTPWrapper provides HTTP bindings on top of a Runner.
type HTTPWrapper struct {
	*Runner

	// RouteTable maps method+path to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table
// pre-configured.
func NewHTTPWrapper(rn *Runner) HTTPWrapper {
	w := HTTPWrapper{Runner: rn}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/stage-position"}: w.GetStagePosition,
		{Method: http.MethodGet, Path: "/plan"}:           w.GetPlan,
		{Method: http.MethodPost, Path: "/run"}:           w.Run,
		{Method: http.MethodPost, Path: "/abort"}:         w.HTTPAbort,
		{Method: http.MethodGet, Path: "/status"}:         w.GetStatus,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer.
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// GetStagePosition reads the stage position and sends it back as JSON.
func (h HTTPWrapper) GetStagePosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.drv.GetStagePosition()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pos); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GetPlan computes the tile grid for query parameters width, height,
// overlap, and optionally mag, without moving anything, and returns it as
// JSON.  Useful for sanity checking a request before committing the stage
// to hours of motion.
func (h HTTPWrapper) GetPlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width, err := strconv.ParseFloat(q.Get("width"), 64)
	if err != nil {
		http.Error(w, "width: "+err.Error(), http.StatusBadRequest)
		return
	}
	height, err := strconv.ParseFloat(q.Get("height"), 64)
	if err != nil {
		http.Error(w, "height: "+err.Error(), http.StatusBadRequest)
		return
	}
	overlap, err := strconv.ParseFloat(q.Get("overlap"), 64)
	if err != nil {
		http.Error(w, "overlap: "+err.Error(), http.StatusBadRequest)
		return
	}
	var mag float64
	if s := q.Get("mag"); s != "" {
		mag, err = strconv.ParseFloat(s, 64)
		if err != nil {
			http.Error(w, "mag: "+err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		mag, err = h.drv.GetMagnification()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	ps, err := h.drv.GetPhotoSize()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	start, err := h.drv.GetStagePosition()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	grid, err := montage.PlanGrid(start, width, height, overlap, montage.FieldOfViewAt(mag, ps))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	grid = montage.Sequence(grid)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(grid); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Run starts a session from a JSON montage.Request body.  It responds 202
// immediately; progress is served on the status route.
func (h HTTPWrapper) Run(w http.ResponseWriter, r *http.Request) {
	req := montage.Request{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.Start(req) {
		http.Error(w, "a session is already running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HTTPAbort cancels the in-flight session.
func (h HTTPWrapper) HTTPAbort(w http.ResponseWriter, r *http.Request) {
	h.Abort()
	w.WriteHeader(http.StatusOK)
}

// GetStatus returns the runner status as JSON.
func (h HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
