package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"refwatch/internal/notifier"
	logx "refwatch/pkg/logx"
)

func TestObserveRun(t *testing.T) {
	t.Parallel()
	r := New(Config{}, logx.Nop())

	rep := notifier.Report{
		Started:    time.Unix(1700000000, 0),
		Duration:   1500 * time.Millisecond,
		Confirming: 3,
		Announced:  []notifier.Announcement{{ID: 1}, {ID: 2}},
		Skipped:    1,
	}
	r.ObserveRun(rep, nil)
	require.Equal(t, float64(1700000000), testutil.ToFloat64(r.lastRun))
	require.Equal(t, 1.5, testutil.ToFloat64(r.duration))
	require.Equal(t, float64(3), testutil.ToFloat64(r.confirming))
	require.Equal(t, float64(2), testutil.ToFloat64(r.announced))
	require.Equal(t, float64(1), testutil.ToFloat64(r.lastSuccess))
	require.Equal(t, float64(2), testutil.ToFloat64(r.posts))

	r.ObserveRun(notifier.Report{}, errors.New("boom"))
	require.Equal(t, float64(0), testutil.ToFloat64(r.lastSuccess))
	require.Equal(t, float64(1), testutil.ToFloat64(r.runs.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.runs.WithLabelValues("error")))

	r.ObserveRun(notifier.Report{DryRun: true, Announced: []notifier.Announcement{{ID: 9}}}, nil)
	require.Equal(t, float64(2), testutil.ToFloat64(r.posts))
	require.Equal(t, float64(1), testutil.ToFloat64(r.runs.WithLabelValues("dry_run")))
}

func TestPushSendsToGateway(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		mu.Lock()
		method, path, body = req.Method, req.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	r := New(Config{PushURL: srv.URL, Network: "polkadot"}, logx.Nop())
	r.ObserveRun(notifier.Report{Confirming: 4}, nil)
	require.NoError(t, r.Push(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, method)
	require.Equal(t, "/metrics/job/refwatch/network/polkadot", path)
	require.NotEmpty(t, body)
}

func TestPushWithoutURLIsNoop(t *testing.T) {
	t.Parallel()
	require.NoError(t, New(Config{}, logx.Nop()).Push(context.Background()))
}

func TestPushGatewayError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	err := New(Config{PushURL: srv.URL}, logx.Nop()).Push(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "push metrics"))
}
