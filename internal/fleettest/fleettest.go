// Package fleettest provides an in-process fleet API and a wired offline
// runtime for coordinator tests.
package fleettest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/config"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/session"
	"github.com/smallbiznis/roadfuel/internal/storetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const Tenant = "fleet.example.com"

var Epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// Env is a migrated store, a signed-in session and a gateway pointed at API.
type Env struct {
	Runtime *offline.Runtime
	Clock   *clock.FakeClock
	Session *session.Manager
	Gateway *gateway.Client
	API     *API
}

func New(t *testing.T) *Env {
	t.Helper()
	return NewWithPolicy(t, config.DefaultSyncPolicy())
}

func NewWithPolicy(t *testing.T, policy config.SyncPolicy) *Env {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	db := storetest.Open(t)
	clk := clock.NewFakeClock(Epoch)

	rt := offline.NewRuntime(offline.Params{
		DB:     db,
		Clock:  clk,
		Log:    log,
		Policy: config.NewStaticSyncPolicy(policy),
		GenID:  node,
	})
	sess := session.NewManager(session.Params{DB: db, Clock: clk, Log: log})
	require.NoError(t, sess.Begin(context.Background(), session.Session{
		Token:        "token-1",
		UserID:       "1",
		TenantDomain: Tenant,
	}))

	api := NewAPI()
	t.Cleanup(api.Close)

	gw := gateway.New(gateway.Params{
		Config:      gateway.Config{BaseURL: api.URL + "/api", Timeout: 5 * time.Second},
		Credentials: sess,
		Teardown:    sess,
		Log:         log,
	})
	return &Env{Runtime: rt, Clock: clk, Session: sess, Gateway: gw, API: api}
}

// Request is one call the fake API received.
type Request struct {
	Method         string
	Path           string
	Tenant         string
	IdempotencyKey string
	Body           map[string]any
}

// API fakes the tenant REST API: POST assigns sequential ids (and honours
// Idempotency-Key), GET lists, PATCH /trips/{id} merges.
type API struct {
	*httptest.Server

	mu       sync.Mutex
	down     bool
	status   int
	failures map[string]int
	nextID   int
	records  map[string][]map[string]any
	byKey    map[string]map[string]any
	requests []Request
}

func NewAPI() *API {
	a := &API{
		nextID:   100,
		failures: map[string]int{},
		records:  map[string][]map[string]any{},
		byKey:    map[string]map[string]any{},
	}
	a.Server = httptest.NewServer(http.HandlerFunc(a.serve))
	return a
}

// SetDown drops every connection without answering.
func (a *API) SetDown(down bool) {
	a.mu.Lock()
	a.down = down
	a.mu.Unlock()
}

// FailWith answers every request with status; 0 restores normal behaviour.
func (a *API) FailWith(status int) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

// FailNext answers the next n requests to "METHOD /path" with status.
func (a *API) FailNext(route string, status, n int) {
	a.mu.Lock()
	a.failures[route+"#"+strconv.Itoa(status)] = n
	a.mu.Unlock()
}

func (a *API) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.requests...)
}

// Count returns how many requests matched method and path prefix.
func (a *API) Count(method, prefix string) int {
	n := 0
	for _, r := range a.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

func (a *API) Records(collection string) []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]any(nil), a.records[collection]...)
}

// Seed stores a record as if it had been created earlier.
func (a *API) Seed(collection string, record map[string]any) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store(collection, record)
}

func (a *API) store(collection string, record map[string]any) map[string]any {
	a.nextID++
	out := map[string]any{"id": a.nextID, "created_at": "2026-03-01 08:00:00"}
	for k, v := range record {
		out[k] = v
	}
	a.records[collection] = append(a.records[collection], out)
	return out
}

func (a *API) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if a.down {
		a.mu.Unlock()
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, err := hj.Hijack(); err == nil {
				_ = conn.Close()
				return
			}
		}
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api")
	req := Request{
		Method:         r.Method,
		Path:           path,
		Tenant:         r.Header.Get("X-Tenant"),
		IdempotencyKey: r.Header.Get(gateway.HeaderIdempotencyKey),
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req.Body)
	}
	a.requests = append(a.requests, req)

	if a.status != 0 {
		status := a.status
		a.mu.Unlock()
		writeJSON(w, status, map[string]any{"message": http.StatusText(status)})
		return
	}
	for key, n := range a.failures {
		route, code, _ := strings.Cut(key, "#")
		if n > 0 && route == r.Method+" "+path {
			a.failures[key] = n - 1
			a.mu.Unlock()
			status, _ := strconv.Atoi(code)
			writeJSON(w, status, map[string]any{"message": http.StatusText(status)})
			return
		}
	}
	defer a.mu.Unlock()

	collection := strings.Trim(path, "/")
	id := ""
	if i := strings.IndexByte(collection, '/'); i >= 0 {
		collection, id = collection[:i], collection[i+1:]
	}

	switch {
	case r.Method == http.MethodGet && id == "":
		list := append([]map[string]any{}, a.records[collection]...)
		if collection == "service-stations" {
			writeJSON(w, http.StatusOK, list)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": list})

	case r.Method == http.MethodPost && id == "":
		if prior, ok := a.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
			writeCreated(w, collection, prior)
			return
		}
		rec := a.store(collection, req.Body)
		if req.IdempotencyKey != "" {
			a.byKey[req.IdempotencyKey] = rec
		}
		writeCreated(w, collection, rec)

	case r.Method == http.MethodPatch && id != "":
		for _, rec := range a.records[collection] {
			if idString(rec["id"]) == id {
				for k, v := range req.Body {
					rec[k] = v
				}
				writeJSON(w, http.StatusOK, map[string]any{"data": rec})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "unsupported"})
	}
}

func writeCreated(w http.ResponseWriter, collection string, rec map[string]any) {
	if collection == "service-stations" {
		writeJSON(w, http.StatusCreated, rec)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": rec})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func idString(v any) string {
	switch id := v.(type) {
	case int:
		return strconv.Itoa(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case string:
		return id
	default:
		return ""
	}
}
