package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDoDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/monitor/tests/T1/broadcast" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"code":0,"message":"broadcast queued","data":{"testId":"T1"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.Do(context.Background(), http.MethodPost, "/api/v1/monitor/tests/T1/broadcast", nil)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	env, err := resp.Decode()
	if err != nil || env.Message != "broadcast queued" || string(env.Data) != `{"testId":"T1"}` {
		t.Fatalf("env = %+v err = %v", env, err)
	}
}

func TestDoTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(srv.URL, 50*time.Millisecond)
	if _, err := c.Do(context.Background(), http.MethodGet, "/healthz", nil); err == nil {
		t.Fatalf("expected timeout")
	}
}
