// Package config parses the command line and environment settings.
//
// The only positional argument is the shell pid. Everything else comes from
// the environment: PWD_TRACER_* variables tune polling and logging, and the
// standard OTEL_* variables control span export, which stays off unless an
// OTLP endpoint is set.
package config
