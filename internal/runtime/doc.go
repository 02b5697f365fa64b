/*
Package runtime hosts adapters and exposes them over the remote bindings.

# Architecture Overview

A Service owns a registry of adapters. Local adapters are registered with
RegisterAdapter; remote adapters are connected with ConnectRemote, which
wraps a remote.Client in a remote.Proxy and registers the proxy like any
other adapter. The Service is the remote.Resolver behind a single
remote.Dispatcher, so every binding routes calls through the same code.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - The adapter registry
  - The dispatcher shared by the gRPC, REST and hub servers
  - The hub transport, built through the transport registry
  - HTTP servers for metrics
  - The key-value store selected by config.StoreBackend

## Remotes (remotes.go)

ConnectRemote builds a client for the "rpc", "rest" or "hub" transport of a
config.RemoteConfig. Start connects every configured remote after the
servers are listening, so a Service may proxy itself.

## Stores (store.go)

OpenStore maps config.StoreBackend onto the kvstore backends: memory,
pebble, sqlite, postgres and nats.

## Hooks (hooks.go)

Forwarding tasks report their lifecycle through stream.ForwardHooks.
LoggingHooks, MetricsHooks and AlertingHooks build the standard sets;
ForwardMetrics records task outcomes as Prometheus counters.

## Transport metrics (middleware.go)

When metrics are enabled the hub publisher and subscriber are decorated with
Watermill's Prometheus metrics.

## Health (health.go)

CheckHealth combines the health of every adapter that supports the health
check feature with the process resource usage (resources.go).

# Subpackages

  - config: YAML configuration and validation
  - errors: the error taxonomy shared by every package
  - logging: the ServiceLogger interface and its slog and Watermill adapters
  - ids: ULID helpers
  - jsoncodec: JSON encoding used on the wire
  - metadata: call metadata carried across bindings
  - cloudevents: the hub envelope

# Usage Example

	svc, err := runtime.NewService(conf, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	mem, err := inmemory.New(inmemory.Options{
		Descriptor: adapter.Descriptor{ID: "mem-1", Name: "Memory"},
		Store:      svc.Store(),
	})
	if err != nil {
		return err
	}
	if err := svc.RegisterAdapter(mem); err != nil {
		return err
	}
	return svc.Start(ctx)
*/
package runtime
