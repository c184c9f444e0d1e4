package metrics

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"market-proxy-go/infrastructure/monitor"
)

func TestStartMetricsServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	m := monitor.New(monitor.DefaultConfig())
	m.TickReceived("kite")
	m.TickReceived("kite")
	m.AuthFailure()

	srv := StartMetricsServer(addr, m.Handler())
	defer srv.Close()

	var body string
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
		if err != nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		body = string(raw)
		break
	}
	if body == "" {
		t.Fatal("metrics endpoint never came up")
	}

	if !strings.Contains(body, `mdp_stream_ticks_received_total{broker="kite"} 2`) {
		t.Errorf("ticks_received_total not exported:\n%s", body)
	}
	if !strings.Contains(body, "mdp_stream_auth_failures_total 1") {
		t.Errorf("auth_failures_total not exported")
	}
}
