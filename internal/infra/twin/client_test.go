package twin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/synapseshield/shield/internal/domain"
)

type recorded struct {
	method, path, auth, contentType string
	body                             []byte
}

// fakeADT records requests and answers with handler.
func fakeADT(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body []byte)) (*httptest.Server, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{r.Method, r.URL.Path, r.Header.Get("Authorization"), r.Header.Get("Content-Type"), body})
		mu.Unlock()
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func decodePatch(t *testing.T, body []byte) patchOp {
	t.Helper()
	var ops []patchOp
	if err := json.Unmarshal(body, &ops); err != nil {
		t.Fatalf("patch body is not a JSON Patch document: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	return ops[0]
}

func TestSetProperty_Replace(t *testing.T) {
	srv, reqs := fakeADT(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := New(Config{URL: srv.URL + "/", Token: "secret"})

	if err := c.SetProperty(context.Background(), "thermostat 1", "/lastAnomalyScore", 0.42); err != nil {
		t.Fatalf("SetProperty() error: %v", err)
	}
	if len(*reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(*reqs))
	}
	got := (*reqs)[0]
	if got.method != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", got.method)
	}
	if got.path != "/digitaltwins/thermostat 1" {
		t.Errorf("path = %q, want /digitaltwins/thermostat 1", got.path)
	}
	if got.auth != "Bearer secret" {
		t.Errorf("Authorization = %q, want Bearer secret", got.auth)
	}
	if got.contentType != "application/json-patch+json" {
		t.Errorf("Content-Type = %q", got.contentType)
	}
	op := decodePatch(t, got.body)
	if op.Op != "replace" || op.Path != "/lastAnomalyScore" || op.Value != 0.42 {
		t.Errorf("patch = %+v, want replace /lastAnomalyScore 0.42", op)
	}
}

func TestSetProperty_FallsBackToAdd(t *testing.T) {
	srv, reqs := fakeADT(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		var ops []patchOp
		json.Unmarshal(body, &ops)
		if ops[0].Op == "replace" {
			http.Error(w, `{"error":{"code":"JsonPatchInvalid"}}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	c := New(Config{URL: srv.URL})

	if err := c.SetProperty(context.Background(), "dev-1", "recommendedAction", "IsolateDevice"); err != nil {
		t.Fatalf("SetProperty() error: %v", err)
	}
	if len(*reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(*reqs))
	}
	op := decodePatch(t, (*reqs)[1].body)
	if op.Op != "add" || op.Path != "/recommendedAction" || op.Value != "IsolateDevice" {
		t.Errorf("fallback patch = %+v", op)
	}
}

func TestSetProperty_BothFail(t *testing.T) {
	srv, _ := fakeADT(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	err := New(Config{URL: srv.URL}).SetProperty(context.Background(), "dev-1", "/x", 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Errorf("SetProperty() error = %v, want APIError 403", err)
	}
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{})
	if c.Configured() {
		t.Error("Configured() = true for empty URL")
	}
	if err := c.SetProperty(context.Background(), "d", "/x", 1); !errors.Is(err, domain.ErrTwinNotConfigured) {
		t.Errorf("SetProperty() error = %v, want ErrTwinNotConfigured", err)
	}
	if _, err := c.Query(context.Background(), ""); !errors.Is(err, domain.ErrTwinNotConfigured) {
		t.Errorf("Query() error = %v, want ErrTwinNotConfigured", err)
	}
}

func TestQuery_FollowsContinuation(t *testing.T) {
	srv, reqs := fakeADT(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		var q queryRequest
		json.Unmarshal(body, &q)
		w.Header().Set("Content-Type", "application/json")
		if q.ContinuationToken == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"value":             []map[string]any{{"$dtId": "a"}, {"$dtId": "b"}},
				"continuationToken": "page-2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"value": []map[string]any{{"$dtId": "c"}}})
	})

	items, err := New(Config{URL: srv.URL}).Query(context.Background(), "")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(items) != 3 || items[2]["$dtId"] != "c" {
		t.Errorf("Query() = %v, want a, b, c", items)
	}

	if len(*reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(*reqs))
	}
	var first, second queryRequest
	json.Unmarshal((*reqs)[0].body, &first)
	json.Unmarshal((*reqs)[1].body, &second)
	if first.Query != DefaultQuery {
		t.Errorf("first query = %q, want %q", first.Query, DefaultQuery)
	}
	if second.ContinuationToken != "page-2" || second.Query != "" {
		t.Errorf("second request = %+v, want continuation only", second)
	}
	if (*reqs)[0].path != "/query" {
		t.Errorf("path = %q, want /query", (*reqs)[0].path)
	}
}

func TestQuery_Error(t *testing.T) {
	srv, _ := fakeADT(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		http.Error(w, "bad query", http.StatusBadRequest)
	})
	_, err := New(Config{URL: srv.URL}).Query(context.Background(), "SELECT nonsense")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("Query() error = %v, want APIError 400", err)
	}
}
