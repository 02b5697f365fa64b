package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/adapterflow/adapter"
	configpkg "github.com/drblury/adapterflow/internal/runtime/config"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/kvstore"
	"github.com/drblury/adapterflow/remote"
	"github.com/drblury/adapterflow/remote/hub"
	"github.com/drblury/adapterflow/remote/rest"
	"github.com/drblury/adapterflow/remote/rpc"
	"github.com/drblury/adapterflow/stream"
	"github.com/drblury/adapterflow/subscription"
	"github.com/drblury/adapterflow/transport"
	_ "github.com/drblury/adapterflow/transport/transports" // built-in hub backends
)

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// Transports builds the hub transport. Defaults to transport.DefaultRegistry.
	Transports *transport.Registry
	// Store replaces the store selected by config.StoreBackend. The Service
	// does not close a supplied store.
	Store kvstore.Store
	// Registry receives every collector and backs the /metrics endpoint.
	// Defaults to the Prometheus default registry.
	Registry *prometheus.Registry
	// Hooks are merged after the logging and metrics hooks of every
	// forwarding task the Service starts.
	Hooks stream.ForwardHooks
}

// Service hosts adapters and serves them over the configured bindings.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transports *transport.Registry
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	store     kvstore.Store
	ownsStore bool

	hooks          stream.ForwardHooks
	forwardMetrics *ForwardMetrics
	feedMetrics    *subscription.Metrics
	dispatcher     *remote.Dispatcher

	adapters   map[string]adapter.Adapter
	order      []string
	adaptersMu sync.RWMutex

	hubOnce sync.Once
	hub     transport.Transport
	hubRaw  transport.Transport
	hubErr  error

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	resourceTracker *resourceTracker
	closeOnce       sync.Once
	closeErr        error
}

// NewService constructs a Service for the supplied configuration. Register
// adapters on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		conf = &configpkg.Config{}
	}
	log = loggingpkg.OrNop(log)
	log.Info("Creating adapter service", loggingpkg.LogFields{
		"hub_transport": conf.HubTransport,
		"store_backend": conf.Store(),
		"config":        conf,
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		transports:      deps.Transports,
		adapters:        make(map[string]adapter.Adapter),
		resourceTracker: newResourceTracker(),
	}
	if s.transports == nil {
		s.transports = transport.DefaultRegistry
	}
	s.registerer, s.gatherer = prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	if deps.Registry != nil {
		s.registerer, s.gatherer = deps.Registry, deps.Registry
	}

	if conf.MetricsEnabled {
		s.forwardMetrics = NewForwardMetrics(s.registerer)
		if err := s.forwardMetrics.Register(); err != nil {
			return nil, fmt.Errorf("register forward metrics: %w", err)
		}
		s.feedMetrics = subscription.NewMetrics(s.registerer)
		if err := s.feedMetrics.Register(); err != nil {
			return nil, fmt.Errorf("register subscription metrics: %w", err)
		}
	}
	s.hooks = LoggingHooks(log).Merge(s.forwardMetrics.Hooks()).Merge(deps.Hooks)

	s.store = deps.Store
	if s.store == nil {
		store, err := OpenStore(context.Background(), conf)
		if err != nil {
			return nil, err
		}
		s.store, s.ownsStore = store, true
	}

	s.dispatcher = remote.NewDispatcher(s,
		remote.WithDispatcherLogger(log),
		remote.WithOutputPolicy(s.outputPolicy()),
		remote.WithDispatchHooks(s.hooks),
	)
	return s, nil
}

func (s *Service) outputPolicy() stream.Policy {
	if s.Conf.StreamCapacity > 0 {
		return stream.Bounded(s.Conf.StreamCapacity)
	}
	return stream.Unbounded()
}

// Store returns the key-value store selected by the configuration.
func (s *Service) Store() kvstore.Store { return s.store }

// Dispatcher returns the dispatcher every binding of this Service uses.
func (s *Service) Dispatcher() *remote.Dispatcher { return s.dispatcher }

// Hooks returns the forward hooks the Service attaches to its tasks.
func (s *Service) Hooks() stream.ForwardHooks { return s.hooks }

// SubscriptionMetrics returns the feed metrics, or nil when metrics are
// disabled. Adapters pass it to their subscription managers.
func (s *Service) SubscriptionMetrics() *subscription.Metrics { return s.feedMetrics }

// RegisterAdapter adds a to the registry. The Service closes adapters that
// implement io.Closer when it is closed.
func (s *Service) RegisterAdapter(a adapter.Adapter) error {
	if a == nil {
		return errspkg.ErrAdapterRequired
	}
	id := a.Descriptor().ID
	s.adaptersMu.Lock()
	defer s.adaptersMu.Unlock()
	if _, ok := s.adapters[id]; ok {
		return fmt.Errorf("%w: %q", errspkg.ErrDuplicateAdapter, id)
	}
	s.adapters[id] = a
	s.order = append(s.order, id)
	s.Logger.Info("Adapter registered", loggingpkg.LogFields{
		loggingpkg.FieldAdapterID: id,
		"features":                a.Features().Len(),
	})
	return nil
}

// Adapter returns the adapter registered under id.
func (s *Service) Adapter(id string) (adapter.Adapter, bool) {
	s.adaptersMu.RLock()
	defer s.adaptersMu.RUnlock()
	a, ok := s.adapters[id]
	return a, ok
}

// Adapters returns the registered adapters in registration order.
func (s *Service) Adapters() []adapter.Adapter {
	s.adaptersMu.RLock()
	defer s.adaptersMu.RUnlock()
	out := make([]adapter.Adapter, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.adapters[id])
	}
	return out
}

// hubTransport builds the hub transport once. The returned pair is
// decorated with metrics when they are enabled.
func (s *Service) hubTransport(ctx context.Context) (transport.Transport, error) {
	s.hubOnce.Do(func() {
		if s.Conf.HubTransport == "" {
			s.hubErr = errspkg.Validation("hub_transport", "no hub transport configured")
			return
		}
		t, err := s.transports.Build(ctx, s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
		if err != nil {
			s.hubErr = err
			return
		}
		s.hubRaw = t
		s.hub, s.hubErr = s.decorateTransport(t)
	})
	return s.hub, s.hubErr
}

func (s *Service) hubCapabilities() transport.Capabilities {
	return s.transports.GetCapabilities(strings.ToLower(s.Conf.HubTransport))
}

// Start serves the configured bindings, connects the configured remotes and
// blocks until ctx is cancelled or a server fails.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if s.Conf.HubTransport != "" {
		t, err := s.hubTransport(ctx)
		if err != nil {
			return err
		}
		srv := hub.NewServer(s.dispatcher, t, hub.ServerOptions{
			RequestTopic:   s.Conf.HubRequestTopic,
			MaxMessageSize: s.hubCapabilities().MaxMessageSize,
			Logger:         s.Logger,
		})
		if err := srv.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			srv.Close()
			return nil
		})
	}
	if addr := s.Conf.GRPCAddress; addr != "" {
		srv := rpc.NewServer(s.dispatcher, s.Logger)
		g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
	}
	if addr := s.Conf.RESTAddress; addr != "" {
		srv := rest.NewServer(s.dispatcher, s.Logger)
		g.Go(func() error { return srv.ListenAndServe(ctx, addr) })
	}
	if s.Conf.MetricsEnabled && s.Conf.MetricsPort > 0 {
		s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.startHTTPServers(ctx, g)

	for _, rc := range s.Conf.Remotes {
		if _, err := s.ConnectRemote(ctx, rc); err != nil {
			s.Logger.Error("Failed to connect remote", err, loggingpkg.LogFields{
				"remote":    rc.LocalID(),
				"transport": rc.Transport,
			})
			cancel()
			return errors.Join(err, g.Wait())
		}
	}
	return g.Wait()
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(ctx context.Context, g *errgroup.Group) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
}

// Close closes every registered adapter that implements io.Closer, the hub
// transport and the store the Service opened.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, a := range s.Adapters() {
			if c, ok := a.(io.Closer); ok {
				if err := c.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close adapter %s: %w", a.Descriptor().ID, err))
				}
			}
		}
		if s.hubRaw.Publisher != nil || s.hubRaw.Subscriber != nil {
			errs = append(errs, s.hubRaw.Close())
		}
		if s.ownsStore && s.store != nil {
			errs = append(errs, s.store.Close())
		}
		s.closeErr = errors.Join(errs...)
		s.Logger.Info("Adapter service closed", nil)
	})
	return s.closeErr
}

var _ remote.Resolver = (*Service)(nil)
