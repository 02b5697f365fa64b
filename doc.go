// Package adapterflow hosts data-source adapters and streams their results
// to local and remote callers.
//
// An adapter exposes a set of feature contracts (tag search, real-time and
// historical reads, event messages, asset model browsing, annotations,
// health checks and extensions). Every operation returns a Sequence: a
// bounded or unbounded asynchronous stream whose producer runs on a
// background forwarding task and stops when the consumer cancels.
//
// Push features share one upstream feed per subscription key through the
// subscription manager. Active subscribers start and keep feeds running;
// passive subscribers only receive what is already flowing.
//
// A Service registers adapters, serves them over gRPC, REST and the message
// hub, and proxies remote adapters so that they look local. The hub runs on
// any Watermill backend registered with the transport registry: Go
// channels, NATS, NATS JetStream, Kafka, RabbitMQ, AWS SNS/SQS, HTTP or
// files. Cursor checkpoints and other adapter state live in a key-value
// store backed by memory, Pebble, SQLite, PostgreSQL or NATS KV.
//
// A minimal setup fills Config, creates a Service, registers adapters and
// calls Start:
//
//	svc, err := adapterflow.NewService(conf, logger, adapterflow.ServiceDependencies{})
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//	if err := svc.RegisterAdapter(myAdapter); err != nil {
//		return err
//	}
//	return svc.Start(ctx)
package adapterflow
