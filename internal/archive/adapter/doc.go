// Package adapter contains implementations of the interfaces defined in
// archive/app, dispatch and supervisor: DynamoDB stores, the Redis
// in-flight set, the content classifier, object storage, the URL shortener,
// operator alerts and lifecycle fan-out.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("archive/adapter")
