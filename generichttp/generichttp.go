// Package generichttp defines the plumbing used to wrap instruments and
// long-running routines in an HTTP interface: a method+path keyed route
// table, the HTTPer interface, and a small JSON payload vocabulary.
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
)

// MethodPath is an HTTP method and URL path pair, the key of a RouteTable.
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method+path to handlers.
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the paths in the table, sorted, for discovery routes.
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for k := range rt {
		out = append(out, k.Method+" "+k.Path)
	}
	sort.Strings(out)
	return out
}

// Bind attaches every route in the table to a chi router.
func (rt RouteTable) Bind(r chi.Router) {
	for k, handler := range rt {
		r.Method(k.Method, k.Path, handler)
	}
}

// HTTPer is a type which exposes an HTTP route table.
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize ensures a mount point looks like "/stem", with a leading
// slash and no trailing slash or wildcard.
func SubMuxSanitize(stem string) string {
	if !strings.HasPrefix(stem, "/") {
		stem = "/" + stem
	}
	stem = strings.TrimSuffix(stem, "/*")
	return strings.TrimSuffix(stem, "/")
}

// FloatT is a struct with a single float64 field, used for json IO
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, used for json IO
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, used for json IO
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, used for json IO
type BoolT struct {
	Bool bool `json:"bool"`
}

// HumanPayload is a wrapper around the basic types, with an EncodeAndRespond
// method that writes the value as the matching json payload struct.
type HumanPayload struct {
	T      types.BasicKind
	Bool   bool
	Int    int
	Float  float64
	String string
}

// EncodeAndRespond writes the payload to w as JSON.
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	switch hp.T {
	case types.Bool:
		err = json.NewEncoder(w).Encode(BoolT{Bool: hp.Bool})
	case types.Int:
		err = json.NewEncoder(w).Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = json.NewEncoder(w).Encode(FloatT{F64: hp.Float})
	case types.String:
		err = json.NewEncoder(w).Encode(StrT{Str: hp.String})
	default:
		http.Error(w, "unmapped payload type", http.StatusInternalServerError)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
