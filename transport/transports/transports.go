// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/phaseflow/transport/aws"
	_ "github.com/drblury/phaseflow/transport/http"
	_ "github.com/drblury/phaseflow/transport/io"
	_ "github.com/drblury/phaseflow/transport/jetstream"
	_ "github.com/drblury/phaseflow/transport/kafka"
	_ "github.com/drblury/phaseflow/transport/local"
	_ "github.com/drblury/phaseflow/transport/nats"
	_ "github.com/drblury/phaseflow/transport/rabbitmq"
	_ "github.com/drblury/phaseflow/transport/webhook"
)
