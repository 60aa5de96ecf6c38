package metrics

import (
	"testing"

	"github.com/conch/wirebus/pkg/socket"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRegister_CollectsSnapshot(t *testing.T) {
	snap := socket.Metrics{
		MessagesSent:     3,
		MessagesReceived: 7,
		BytesSent:        120,
		BytesReceived:    400,
		KeepAlivesSent:   9,
		Errors:           1,
	}

	reg := prometheus.NewRegistry()
	Register(reg, func() socket.Metrics { return snap })

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	want := map[string]float64{
		"wirebus_messages_sent_total":     3,
		"wirebus_messages_received_total": 7,
		"wirebus_bytes_sent_total":        120,
		"wirebus_bytes_received_total":    400,
		"wirebus_keepalives_sent_total":   9,
		"wirebus_errors_total":            1,
	}

	got := make(map[string]float64)
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			got[fam.GetName()] = m.GetCounter().GetValue()
		}
	}

	for name, val := range want {
		if got[name] != val {
			t.Fatalf("%s = %v, want %v", name, got[name], val)
		}
	}
}
