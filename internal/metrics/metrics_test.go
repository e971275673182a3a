package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// sampleValue は指定名・ラベルのメトリクスの値を返す。
// カウンタは値、ヒストグラムはサンプル数を返す。
func sampleValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, labels)
	return 0
}

func TestRecordLogin_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("success")
	c.RecordLogin("success")
	c.RecordLogin("signature_invalid")

	if v := sampleValue(t, reg, "seva_login_total", map[string]string{"result": "success"}); v != 2 {
		t.Errorf("success = %v, want 2", v)
	}
	if v := sampleValue(t, reg, "seva_login_total", map[string]string{"result": "signature_invalid"}); v != 1 {
		t.Errorf("signature_invalid = %v, want 1", v)
	}
}

func TestRecordRegistration_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration()

	if v := sampleValue(t, reg, "seva_registrations_total", nil); v != 1 {
		t.Errorf("registrations = %v, want 1", v)
	}
}

func TestRecordStoreError_CountsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStoreError("unavailable")
	c.RecordStoreError("conflict")
	c.RecordStoreError("unavailable")

	if v := sampleValue(t, reg, "seva_store_errors_total", map[string]string{"kind": "unavailable"}); v != 2 {
		t.Errorf("unavailable = %v, want 2", v)
	}
}

func TestRecordHTTPStatus_CountsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(503)

	if v := sampleValue(t, reg, "seva_http_status_total", map[string]string{"status_code": "503"}); v != 1 {
		t.Errorf("503 = %v, want 1", v)
	}
}

func TestRecordRequestLatency_Observes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(150 * time.Millisecond)

	if v := sampleValue(t, reg, "seva_request_latency_seconds", nil); v != 1 {
		t.Errorf("sample count = %v, want 1", v)
	}
}

func TestRecordSessionsPurged_Adds(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsPurged(3)
	c.RecordSessionsPurged(0)

	if v := sampleValue(t, reg, "seva_sessions_purged_total", nil); v != 3 {
		t.Errorf("purged = %v, want 3", v)
	}
}
