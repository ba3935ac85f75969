// Package locker provides an HTTP middleware which allows a route tree to be
// locked, returning 423 (locked).  It serializes access to an instrument
// that cannot serve two masters, e.g. while a montage acquisition owns the
// stage.
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/cmss-ltu/semontage/generichttp"
)

// Inject adds lock routes to an HTTPer which manipulate the locker.
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker behaves like a sync.Mutex without the blocking, and holds a list of
// path fragments to leave unprotected.  State is atomic; the lock is engaged
// and released from a background acquisition goroutine while HTTP handlers
// read it.
type Locker struct {
	isLocked atomic.Bool

	// DoNotProtect is a list of path fragments the lock does not apply to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with the lock,
// status, and abort routes, so a locked instrument can still be observed,
// unlocked, and its in-flight acquisition cancelled.
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock", "status", "abort"}}
}

// Lock the locker.
func (l *Locker) Lock() { l.isLocked.Store(true) }

// Unlock the locker.
func (l *Locker) Unlock() { l.isLocked.Store(false) }

// Locked returns true if the locker is locked.
func (l *Locker) Locked() bool { return l.isLocked.Load() }

// Check is an HTTP middleware that returns http.StatusLocked if Locked(),
// otherwise passes the request down the line.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			protected := true
			for _, str := range l.DoNotProtect {
				if strings.Contains(r.URL.Path, str) {
					protected = false
				}
			}
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body.
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON.
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	hp := generichttp.HumanPayload{T: types.Bool, Bool: l.Locked()}
	hp.EncodeAndRespond(w, r)
}
