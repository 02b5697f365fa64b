// Package transports imports every built-in hub backend so that each
// registers itself with the default registry.
package transports

import (
	_ "github.com/drblury/adapterflow/transport/aws"
	_ "github.com/drblury/adapterflow/transport/channel"
	_ "github.com/drblury/adapterflow/transport/http"
	_ "github.com/drblury/adapterflow/transport/io"
	_ "github.com/drblury/adapterflow/transport/jetstream"
	_ "github.com/drblury/adapterflow/transport/kafka"
	_ "github.com/drblury/adapterflow/transport/nats"
	_ "github.com/drblury/adapterflow/transport/rabbitmq"
)
