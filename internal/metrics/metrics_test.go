package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"meshnode/node/reconfig"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultOK},
		{fmt.Errorf("%w: boom", reconfig.ErrShutdown), ResultShutdownFailed},
		{fmt.Errorf("%w: boom", reconfig.ErrInitialize), ResultInitializeFailed},
		{fmt.Errorf("apply interface changes: %w", context.Canceled), ResultCanceled},
		{fmt.Errorf("%w: %w", reconfig.ErrNotApplied, context.Canceled), ResultCanceled},
		{errors.New("other"), ResultOtherError},
	}
	for _, tt := range tests {
		if got := Result(tt.err); got != tt.want {
			t.Errorf("Result(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveApply(nil, 120*time.Millisecond)
	r.ObserveApply(fmt.Errorf("%w: x", reconfig.ErrInitialize), time.Second)
	r.ObserveApply(nil, 80*time.Millisecond)
	r.ObservePhaseError(reconfig.PhaseStopManagers)
	r.SetRuntimeUp(true)

	if got := testutil.ToFloat64(r.applies.WithLabelValues(ResultOK)); got != 2 {
		t.Errorf("ok applies = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.applies.WithLabelValues(ResultInitializeFailed)); got != 1 {
		t.Errorf("initialize_failed applies = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.phaseErrors.WithLabelValues("stop_managers")); got != 1 {
		t.Errorf("stop_managers errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.runtimeUp); got != 1 {
		t.Errorf("runtime up = %v, want 1", got)
	}
	r.SetRuntimeUp(false)
	if got := testutil.ToFloat64(r.runtimeUp); got != 0 {
		t.Errorf("runtime up = %v, want 0", got)
	}

	// 5 results + 7 phases + histogram + gauge.
	if n := testutil.CollectAndCount(reg); n != 5+len(reconfig.Phases)+2 {
		t.Errorf("registered series = %d, want %d", n, 5+len(reconfig.Phases)+2)
	}
}

func TestServerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.SetRuntimeUp(true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- NewServer(ln.Addr().String(), reg).Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "meshnode_runtime_up 1") {
		t.Errorf("/metrics missing runtime gauge:\n%s", body)
	}

	cancel()
	if err := <-served; err != nil {
		t.Errorf("Serve() = %v", err)
	}
}
