// Package telemetry provides logging, metrics, tracing, and event publishing
// for Stagehand.
//
// Logging is structured (zerolog) with component-scoped child loggers.
// Metrics are Prometheus counters and histograms covering deployments, steps,
// acquisitions, remediations, and rollbacks. The event publisher is an
// asynchronous, best-effort channel: foreground flows never block on it and
// a full buffer drops events rather than stalling a deployment.
package telemetry
