package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func stubResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestBridge(apiKey string, logs *bytes.Buffer, rt roundTripFunc) *Bridge {
	if logs == nil {
		logs = &bytes.Buffer{}
	}
	return New(Config{
		Endpoint:   "http://rag.unit-test.local/rag-query",
		APIKey:     apiKey,
		Client:     &http.Client{Transport: rt},
		SessionIDs: func() string { return "lx2k9abcde" },
		Logger:     slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
}

func TestResolveMapsResults(t *testing.T) {
	b := newTestBridge("secret-key", nil, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.String() != "http://rag.unit-test.local/rag-query" {
			t.Fatalf("url = %s", r.URL)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Fatalf("Content-Type = %q, want application/json", got)
		}
		if got := r.Header.Get(APIKeyHeader); got != "secret-key" {
			t.Fatalf("%s = %q, want secret-key", APIKeyHeader, got)
		}

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["query"] != "YOLO" {
			t.Fatalf("payload query = %v, want YOLO", payload["query"])
		}
		if payload["top_k"] != float64(5) {
			t.Fatalf("payload top_k = %v, want 5", payload["top_k"])
		}
		if payload["session_id"] != "lx2k9abcde" {
			t.Fatalf("payload session_id = %v, want lx2k9abcde", payload["session_id"])
		}

		return stubResponse(http.StatusOK, `{"results":[{"text":"YOLOv8 is...","score":0.92,"source":"docs"}]}`), nil
	})

	result, err := b.Resolve(context.Background(), "YOLO")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := RemoteResult{Text: "YOLOv8 is...", Score: 0.92, Source: "docs"}
	if len(result.Results) != 1 || result.Results[0] != want {
		t.Fatalf("Results = %+v, want [%+v]", result.Results, want)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" || result.Content[0].Text != "YOLOv8 is..." {
		t.Fatalf("Content = %+v", result.Content)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	wantJSON := `{"results":[{"text":"YOLOv8 is...","score":0.92,"source":"docs"}],"content":[{"type":"text","text":"YOLOv8 is..."}]}`
	if string(encoded) != wantJSON {
		t.Fatalf("encoded = %s, want %s", encoded, wantJSON)
	}
}

func TestResolvePreservesOrderAndDefaultsSource(t *testing.T) {
	body := `{"status":"ok","results":[
		{"text":"first","score":0.9,"source":"paper"},
		{"text":"second","score":0.95},
		{"text":"third","score":0.1,"source":""},
		{"text":"fourth","score":0.5,"source":null}
	]}`
	b := newTestBridge("k", nil, func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusOK, body), nil
	})

	result, err := b.Resolve(context.Background(), "q")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	wantTexts := []string{"first", "second", "third", "fourth"}
	wantSources := []string{"paper", UnknownSource, UnknownSource, UnknownSource}
	if len(result.Results) != len(wantTexts) || len(result.Content) != len(wantTexts) {
		t.Fatalf("len(Results) = %d, len(Content) = %d, want %d", len(result.Results), len(result.Content), len(wantTexts))
	}
	for i := range wantTexts {
		if result.Results[i].Text != wantTexts[i] || result.Content[i].Text != wantTexts[i] {
			t.Fatalf("item %d = %+v / %+v, want text %q", i, result.Results[i], result.Content[i], wantTexts[i])
		}
		if result.Results[i].Source != wantSources[i] {
			t.Fatalf("item %d source = %q, want %q", i, result.Results[i].Source, wantSources[i])
		}
	}
}

func TestResolveEmptyResults(t *testing.T) {
	b := newTestBridge("k", nil, func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusOK, `{"results":[]}`), nil
	})
	result, err := b.Resolve(context.Background(), "q")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(result.Results) != 0 || len(result.Content) != 0 {
		t.Fatalf("result = %+v, want empty", result)
	}
	encoded, _ := json.Marshal(result)
	if string(encoded) != `{"results":[],"content":[]}` {
		t.Fatalf("encoded = %s, want empty arrays", encoded)
	}
}

func TestResolveWithoutAPIKeyWarns(t *testing.T) {
	var logs bytes.Buffer
	b := newTestBridge("", &logs, func(r *http.Request) (*http.Response, error) {
		if _, ok := r.Header[http.CanonicalHeaderKey(APIKeyHeader)]; ok {
			t.Fatalf("%s header present without credentials", APIKeyHeader)
		}
		return stubResponse(http.StatusOK, `{"results":[]}`), nil
	})

	if _, err := b.Resolve(context.Background(), "q"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !strings.Contains(logs.String(), `"level":"WARN"`) || !strings.Contains(logs.String(), "no API key") {
		t.Fatalf("logs = %s, want API key warning", logs.String())
	}
}

func TestResolveStatusError(t *testing.T) {
	var requests atomic.Int32
	b := newTestBridge("k", nil, func(r *http.Request) (*http.Response, error) {
		requests.Add(1)
		return stubResponse(http.StatusInternalServerError, "internal error"), nil
	})

	result, err := b.Resolve(context.Background(), "q")
	if err == nil {
		t.Fatal("Resolve() error = nil, want non-nil")
	}
	var statusErr *RemoteStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error type = %T, want *RemoteStatusError", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("StatusCode = %d, want 500", statusErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "internal error") {
		t.Fatalf("error = %q, want status and body", err.Error())
	}
	if result.Results != nil || result.Content != nil {
		t.Fatalf("result = %+v, want zero value", result)
	}
	if requests.Load() != 1 {
		t.Fatalf("requests = %d, want exactly 1", requests.Load())
	}
	if ErrorCode(err) != CodeUpstreamStatus {
		t.Fatalf("ErrorCode() = %q, want %q", ErrorCode(err), CodeUpstreamStatus)
	}
}

func TestResolveStatusErrorWithEmptyBody(t *testing.T) {
	b := newTestBridge("k", nil, func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusBadGateway, ""), nil
	})
	_, err := b.Resolve(context.Background(), "q")
	if err == nil || !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "Bad Gateway") {
		t.Fatalf("error = %v, want 502 Bad Gateway", err)
	}
}

func TestResolveLogicError(t *testing.T) {
	b := newTestBridge("k", nil, func(r *http.Request) (*http.Response, error) {
		return stubResponse(http.StatusOK, `{"status":"error","message":"index unavailable"}`), nil
	})

	_, err := b.Resolve(context.Background(), "q")
	var logicErr *RemoteLogicError
	if !errors.As(err, &logicErr) {
		t.Fatalf("error = %v (%T), want *RemoteLogicError", err, err)
	}
	if !strings.Contains(err.Error(), "index unavailable") {
		t.Fatalf("error = %q, want remote message", err.Error())
	}
	if ErrorCode(err) != CodeUpstreamError {
		t.Fatalf("ErrorCode() = %q, want %q", ErrorCode(err), CodeUpstreamError)
	}

	cases := map[string]string{
		`{"status":"error","message":{"detail":"quota exceeded"}}`: `{"detail":"quota exceeded"}`,
		`{"status":"error","message":429}`:                         "429",
		`{"status":"error"}`:                                       "unspecified error",
	}
	for body, want := range cases {
		b := newTestBridge("k", nil, func(r *http.Request) (*http.Response, error) {
			return stubResponse(http.StatusOK, body), nil
		})
		_, err := b.Resolve(context.Background(), "q")
		if !errors.As(err, &logicErr) {
			t.Fatalf("body %s: error = %v (%T), want *RemoteLogicError", body, err, err)
		}
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("body %s: error = %q, want %q", body, err.Error(), want)
		}
	}
}

func TestResolveTransportError(t *testing.T) {
	dialErr := errors.New("connection refused")
	var logs bytes.Buffer
	b := newTestBridge("k", &logs, func(r *http.Request) (*http.Response, error) {
		return nil, dialErr
	})

	_, err := b.Resolve(context.Background(), "q")
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v (%T), want *TransportError", err, err)
	}
	if !errors.Is(err, dialErr) {
		t.Fatalf("error %v does not wrap the transport failure", err)
	}
	if ErrorCode(err) != CodeTransportFailure {
		t.Fatalf("ErrorCode() = %q, want %q", ErrorCode(err), CodeTransportFailure)
	}
	if !strings.Contains(logs.String(), `"level":"ERROR"`) {
		t.Fatalf("logs = %s, want error line", logs.String())
	}
}

func TestResolveDecodeErrors(t *testing.T) {
	bodies := map[string]string{
		"not json":        `<html>oops</html>`,
		"missing results": `{"status":"ok"}`,
		"null results":    `{"results":null}`,
		"wrong shape":     `{"results":{"text":"x"}}`,
		"bad score":       `{"results":[{"text":"x","score":"high"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			b := newTestBridge("k", nil, func(r *http.Request) (*http.Response, error) {
				return stubResponse(http.StatusOK, body), nil
			})
			_, err := b.Resolve(context.Background(), "q")
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("error = %v (%T), want *DecodeError", err, err)
			}
		})
	}
}

func TestResolveDoesNotCache(t *testing.T) {
	var requests atomic.Int32
	b := newTestBridge("k", nil, func(r *http.Request) (*http.Response, error) {
		requests.Add(1)
		return stubResponse(http.StatusOK, `{"results":[]}`), nil
	})
	for range 3 {
		if _, err := b.Resolve(context.Background(), "same query"); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if requests.Load() != 3 {
		t.Fatalf("requests = %d, want 3", requests.Load())
	}
}

func TestResolveAgainstHTTPServer(t *testing.T) {
	var (
		mu         sync.Mutex
		sessionIDs []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload searchRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		sessionIDs = append(sessionIDs, payload.SessionID)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"text":"SAM2 segments video","score":0.8,"source":"sam2"}]}`))
	}))
	defer srv.Close()

	b := New(Config{
		Endpoint: srv.URL,
		APIKey:   "k",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	for range 2 {
		result, err := b.Resolve(context.Background(), "segmentation")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if result.Results[0].Source != "sam2" {
			t.Fatalf("source = %q, want sam2", result.Results[0].Source)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sessionIDs) != 2 || sessionIDs[0] == "" || sessionIDs[0] == sessionIDs[1] {
		t.Fatalf("session ids = %v, want two distinct values", sessionIDs)
	}
}

func TestNewDefaults(t *testing.T) {
	b := New(Config{})
	if b.Endpoint() != DefaultEndpoint {
		t.Fatalf("Endpoint() = %q, want %q", b.Endpoint(), DefaultEndpoint)
	}
	if b.topK != DefaultTopK {
		t.Fatalf("topK = %d, want %d", b.topK, DefaultTopK)
	}
	if b.client != sharedHTTPClient {
		t.Fatal("client is not the shared client")
	}
	if b.client.Timeout != 0 {
		t.Fatalf("client timeout = %v, want none", b.client.Timeout)
	}
}
