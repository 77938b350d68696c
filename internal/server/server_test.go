package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mikey/mail-ingest/internal/core"
)

type stubCollector struct {
	name    string
	enabled bool
	runs    int
}

func (s *stubCollector) Name() string  { return s.name }
func (s *stubCollector) Enabled() bool { return s.enabled }

func (s *stubCollector) Run(_ context.Context, _ *core.RunRequest, res *core.RunResult) error {
	s.runs++
	res.Stats.Submitted = 2
	return nil
}

func newTestServer(collectors ...core.Collector) *Server {
	service := core.NewService(zap.NewNop(), collectors...)
	return New(service, zap.NewNop(), "127.0.0.1:0")
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestRunEndpointSuccess(t *testing.T) {
	stub := &stubCollector{name: "local_mail", enabled: true}
	s := newTestServer(stub)

	rec := doRequest(s, http.MethodPost, "/api/collectors/local_mail/run", `{"mode":"run"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res core.RunResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	if res.Status != core.StatusOK || res.Stats.Submitted != 2 || res.RunID == "" {
		t.Errorf("envelope = %+v", res)
	}
	if stub.runs != 1 {
		t.Errorf("collector ran %d times", stub.runs)
	}
}

func TestRunEndpointRejectsUnknownField(t *testing.T) {
	stub := &stubCollector{name: "local_mail", enabled: true}
	s := newTestServer(stub)

	rec := doRequest(s, http.MethodPost, "/api/collectors/local_mail/run", `{"mode":"run","bogus":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if stub.runs != 0 {
		t.Error("adapter ran despite schema rejection")
	}
}

func TestRunEndpointUnknownCollector(t *testing.T) {
	s := newTestServer(&stubCollector{name: "local_mail", enabled: true})

	rec := doRequest(s, http.MethodPost, "/api/collectors/nope/run", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRunEndpointDisabledCollector(t *testing.T) {
	s := newTestServer(&stubCollector{name: "imap", enabled: false})

	rec := doRequest(s, http.MethodPost, "/api/collectors/imap/run", `{}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestListCollectors(t *testing.T) {
	s := newTestServer(
		&stubCollector{name: "local_mail", enabled: true},
		&stubCollector{name: "imap", enabled: false},
	)

	rec := doRequest(s, http.MethodGet, "/api/collectors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var infos []core.CollectorInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "local_mail" || infos[1].Enabled {
		t.Errorf("collectors = %+v", infos)
	}
}
