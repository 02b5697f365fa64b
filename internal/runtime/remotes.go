package runtime

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"

	"github.com/drblury/adapterflow/adapter"
	configpkg "github.com/drblury/adapterflow/internal/runtime/config"
	errspkg "github.com/drblury/adapterflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/adapterflow/internal/runtime/logging"
	"github.com/drblury/adapterflow/remote"
	"github.com/drblury/adapterflow/remote/hub"
	"github.com/drblury/adapterflow/remote/rest"
	"github.com/drblury/adapterflow/remote/rpc"
)

// DialOptions are passed to every gRPC remote. Empty means an insecure
// connection.
var DialOptions []grpc.DialOption

// ConnectRemote builds a client for rc, proxies the remote adapter and
// registers the proxy under rc.LocalID().
func (s *Service) ConnectRemote(ctx context.Context, rc configpkg.RemoteConfig) (*remote.Proxy, error) {
	client, err := s.remoteClient(ctx, rc)
	if err != nil {
		return nil, err
	}
	opts := remote.ProxyOptions{
		RemoteAdapterID: rc.RemoteAdapterID,
		Logger:          s.Logger,
		Metrics:         s.feedMetrics,
		Hooks:           s.hooks,
	}
	if s.Conf.StreamCapacity > 0 {
		opts.Policy = s.outputPolicy()
	}
	if rc.Name != "" {
		opts.Descriptor = adapter.Descriptor{ID: rc.Name}
	}

	proxy, err := remote.NewProxy(ctx, client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := s.RegisterAdapter(proxy); err != nil {
		_ = proxy.Close()
		return nil, err
	}
	s.Logger.Info("Remote connected", loggingpkg.LogFields{
		loggingpkg.FieldAdapterID: rc.LocalID(),
		"transport":               rc.Transport,
		"address":                 rc.Address,
	})
	return proxy, nil
}

func (s *Service) remoteClient(ctx context.Context, rc configpkg.RemoteConfig) (remote.Client, error) {
	switch strings.ToLower(rc.Transport) {
	case configpkg.RemoteRPC:
		return rpc.Dial(rc.Address, DialOptions...)
	case configpkg.RemoteREST:
		return rest.NewClient(rc.Address, nil), nil
	case configpkg.RemoteHub:
		t, err := s.hubTransport(ctx)
		if err != nil {
			return nil, err
		}
		return hub.NewClient(ctx, t, hub.ClientOptions{
			RequestTopic:   rc.Address,
			MaxMessageSize: s.hubCapabilities().MaxMessageSize,
			Logger:         s.Logger,
		})
	default:
		return nil, errspkg.Validation("transport", fmt.Sprintf("unknown remote transport %q", rc.Transport))
	}
}
