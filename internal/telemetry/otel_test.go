package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledTracingIsPassthrough(t *testing.T) {
	tr, err := Init(context.Background(), "clinic-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Enabled() {
		t.Fatal("Enabled() = true without endpoint")
	}
	h := tr.Wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		endpoint string
		want     int
	}{
		{"collector:4318", 2},
		{"http://collector:4318", 2},
		{"https://collector.example.com/v1/traces", 2},
		{"http://collector:4318/custom", 3},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			if got := len(exporterOptions(tt.endpoint)); got != tt.want {
				t.Fatalf("len(options) = %d, want %d", got, tt.want)
			}
		})
	}
}
