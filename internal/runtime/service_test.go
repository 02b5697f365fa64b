package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/adapterflow/adapter"
	"github.com/drblury/adapterflow/adapters/inmemory"
	"github.com/drblury/adapterflow/features"
	configpkg "github.com/drblury/adapterflow/internal/runtime/config"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/remote/hub"
	"github.com/drblury/adapterflow/remote/rest"
	"github.com/drblury/adapterflow/stream"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newTestService(t *testing.T, conf *configpkg.Config) *Service {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	s, err := NewService(conf, newTestLogger(), ServiceDependencies{Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMemoryAdapter(t *testing.T, s *Service) *inmemory.Adapter {
	t.Helper()
	a, err := inmemory.New(inmemory.Options{
		Descriptor: adapter.Descriptor{ID: "mem-1", Name: "Memory"},
		Store:      s.Store(),
		Logger:     s.Logger,
		Metrics:    s.SubscriptionMetrics(),
		Hooks:      s.Hooks(),
	})
	require.NoError(t, err)
	require.NoError(t, a.AddTag(features.TagDefinition{ID: "t1", Name: "Temperature"},
		features.TagValue{UtcSampleTime: time.Now().UTC(), Value: 21.5}))
	require.NoError(t, s.RegisterAdapter(a))
	return a
}

func checkHealth(t *testing.T, a adapter.Adapter) features.HealthCheckResult {
	t.Helper()
	hc, err := adapter.Resolve(a, features.HealthCheckFeature)
	require.NoError(t, err)
	seq, err := hc.CheckHealth(context.Background(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := stream.First(ctx, seq)
	require.NoError(t, err)
	return res
}

type closingAdapter struct {
	*adapter.Base
	closed atomic.Int32
}

func (c *closingAdapter) Close() error {
	c.closed.Add(1)
	return nil
}

func newClosingAdapter(t *testing.T, id string) *closingAdapter {
	t.Helper()
	base, err := adapter.NewBase(adapter.Descriptor{ID: id, Name: id})
	require.NoError(t, err)
	return &closingAdapter{Base: base}
}

func TestServiceRegisterAdapter(t *testing.T) {
	s := newTestService(t, nil)

	a := newClosingAdapter(t, "a")
	b := newClosingAdapter(t, "b")
	require.NoError(t, s.RegisterAdapter(b))
	require.NoError(t, s.RegisterAdapter(a))

	err := s.RegisterAdapter(newClosingAdapter(t, "a"))
	assert.ErrorIs(t, err, errspkg.ErrDuplicateAdapter)
	assert.ErrorIs(t, s.RegisterAdapter(nil), errspkg.ErrAdapterRequired)

	got, ok := s.Adapter("a")
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = s.Adapter("missing")
	assert.False(t, ok)

	all := s.Adapters()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Descriptor().ID)
	assert.Equal(t, "a", all[1].Descriptor().ID)

	infos, err := s.Dispatcher().ListAdapters(context.Background())
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestServiceCloseClosesAdaptersOnce(t *testing.T) {
	s, err := NewService(nil, nil, ServiceDependencies{})
	require.NoError(t, err)
	a := newClosingAdapter(t, "a")
	require.NoError(t, s.RegisterAdapter(a))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), a.closed.Load())
}

func TestServiceCheckHealth(t *testing.T) {
	s := newTestService(t, nil)
	newMemoryAdapter(t, s)
	require.NoError(t, s.RegisterAdapter(newClosingAdapter(t, "no-health")))

	seq, err := s.CheckHealth(context.Background(), nil)
	require.NoError(t, err)
	res, err := stream.First(context.Background(), seq)
	require.NoError(t, err)

	assert.Equal(t, features.Healthy, res.Status)
	require.Len(t, res.InnerResults, 2)
	assert.Equal(t, "runtime", res.InnerResults[0].DisplayName)
	assert.Contains(t, res.InnerResults[0].Data, "goroutines")
	assert.Contains(t, res.InnerResults[0].Data, "memoryBytes")
	assert.Equal(t, "Memory", res.InnerResults[1].DisplayName)
}

func TestServiceCheckHealthReportsClosedAdapter(t *testing.T) {
	s := newTestService(t, nil)
	mem := newMemoryAdapter(t, s)
	require.NoError(t, mem.Close())

	seq, err := s.CheckHealth(context.Background(), nil)
	require.NoError(t, err)
	res, err := stream.First(context.Background(), seq)
	require.NoError(t, err)
	assert.Equal(t, features.Unhealthy, res.Status)
}

func TestServiceConnectRemoteREST(t *testing.T) {
	upstream := newTestService(t, nil)
	newMemoryAdapter(t, upstream)
	srv := httptest.NewServer(rest.NewServer(upstream.Dispatcher(), nil).Handler())
	t.Cleanup(srv.Close)

	s := newTestService(t, nil)
	proxy, err := s.ConnectRemote(context.Background(), configpkg.RemoteConfig{
		Name:            "mirror",
		Transport:       configpkg.RemoteREST,
		Address:         srv.URL,
		RemoteAdapterID: "mem-1",
	})
	require.NoError(t, err)

	got, ok := s.Adapter("mirror")
	require.True(t, ok)
	assert.Same(t, proxy, got)
	assert.Equal(t, "Memory", got.Descriptor().Name)
	assert.Equal(t, "mem-1", proxy.Remote().Descriptor.ID)
	assert.Equal(t, features.Healthy, checkHealth(t, got).Status)
}

func TestServiceConnectRemoteErrors(t *testing.T) {
	s := newTestService(t, nil)

	_, err := s.ConnectRemote(context.Background(), configpkg.RemoteConfig{Transport: "carrier-pigeon", RemoteAdapterID: "x"})
	var verr *errspkg.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "transport", verr.Field)

	_, err = s.ConnectRemote(context.Background(), configpkg.RemoteConfig{Transport: configpkg.RemoteHub, RemoteAdapterID: "x"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "hub_transport", verr.Field)
	assert.Empty(t, s.Adapters())
}

func TestServiceStartServesHubAndConnectsRemotes(t *testing.T) {
	s := newTestService(t, &configpkg.Config{
		HubTransport: "channel",
		Remotes: []configpkg.RemoteConfig{{
			Name:            "mirror",
			Transport:       configpkg.RemoteHub,
			Address:         hub.DefaultRequestTopic,
			RemoteAdapterID: "mem-1",
		}},
	})
	newMemoryAdapter(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := s.Adapter("mirror")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	mirror, _ := s.Adapter("mirror")
	assert.Equal(t, features.Healthy, checkHealth(t, mirror).Status)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestServiceStartFailsOnUnknownRemoteTransport(t *testing.T) {
	s := newTestService(t, &configpkg.Config{
		Remotes: []configpkg.RemoteConfig{{Transport: "bogus", RemoteAdapterID: "x"}},
	})
	err := s.Start(context.Background())
	var verr *errspkg.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestServiceMetricsRecordForwardTasks(t *testing.T) {
	s := newTestService(t, &configpkg.Config{MetricsEnabled: true})
	newMemoryAdapter(t, s)
	require.NotNil(t, s.SubscriptionMetrics())

	seq, err := s.CheckHealth(context.Background(), nil)
	require.NoError(t, err)
	_, err = stream.Collect(context.Background(), seq)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.forwardMetrics.tasks.WithLabelValues("runtime.health", "completed")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
