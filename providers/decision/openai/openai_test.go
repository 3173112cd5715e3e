package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tiger/intersection-signal-sim/internal/policy/delegating"
)

func TestDeciderParsesChatCompletion(t *testing.T) {
	t.Parallel()

	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"{\"selected_configuration\":\"east_west\",\"duration_seconds\":60,\"justification\":\"balanced\"}"}}]}`)
	}))
	defer ts.Close()

	cfg := ConfigFromEnv()
	cfg.APIKey = "key-1"
	cfg.Endpoint = ts.URL
	d, err := NewDecider(cfg)
	if err != nil {
		t.Fatalf("unexpected decider error: %v", err)
	}
	reply, err := d.Decide(context.Background(), delegating.Request{})
	if err != nil {
		t.Fatalf("unexpected decide error: %v", err)
	}
	if reply.SelectedConfiguration != "east_west" || reply.DurationSeconds != 60 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	format, _ := body["response_format"].(map[string]any)
	if format["type"] != "json_object" || body["model"] != cfg.Model {
		t.Fatalf("unexpected request body: %v", body)
	}
}

func TestExtractTextRequiresContent(t *testing.T) {
	t.Parallel()

	if _, err := ExtractText([]byte(`{"choices":[]}`)); err == nil {
		t.Fatalf("expected empty choices to fail")
	}
	if _, err := ExtractText([]byte(`not json`)); err == nil {
		t.Fatalf("expected invalid json to fail")
	}
}
