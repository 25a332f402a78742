package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ticks-app/ticks/internal/metrics"
	"github.com/ticks-app/ticks/internal/offline"
)

type stubHost struct {
	updates   int
	updateErr error
}

func (s *stubHost) Status(context.Context) (offline.Status, error) {
	return offline.Status{
		Version: "v2",
		Phase:   offline.PhaseActivated.String(),
		Partitions: []offline.PartitionStatus{
			{Name: "ticketmaster-cache-v2", Entries: 10, Current: true},
		},
	}, nil
}

func (s *stubHost) Update(context.Context) error {
	s.updates++
	return s.updateErr
}

func TestStatusRoute(t *testing.T) {
	app := fiber.New()
	RegisterDiagnostics(app, &stubHost{}, nil, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	var payload offline.Status
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Phase != "activated" || len(payload.Partitions) != 1 || payload.Partitions[0].Entries != 10 {
		t.Fatalf("unexpected status payload: %+v", payload)
	}
}

func TestInstallRoute(t *testing.T) {
	host := &stubHost{}
	app := fiber.New()
	RegisterDiagnostics(app, host, nil, nil)

	resp, err := app.Test(httptest.NewRequest("POST", "/-/lifecycle/install", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK || host.updates != 1 {
		t.Fatalf("expected one update with 200, got %d updates=%d", resp.StatusCode, host.updates)
	}

	host.updateErr = errors.New("fetch /manifest.json: unexpected status 500")
	resp, err = app.Test(httptest.NewRequest("POST", "/-/lifecycle/install", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusBadGateway || !strings.Contains(string(body), "install_failed") {
		t.Fatalf("expected install_failed, got %d %s", resp.StatusCode, body)
	}
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.ObserveProxy("events", 200)

	app := fiber.New()
	RegisterDiagnostics(app, &stubHost{}, reg, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `ticks_proxy_requests_total{endpoint="events",status="200"} 1`) {
		t.Fatalf("metrics output missing proxy counter: %s", body)
	}
}
