// Package tool defines how ordinary Go functions are exposed as callable tools.
//
// The package is split by concern:
//   - type_system: the closed set of type tags and value checks
//   - registry: definitions bound to their callables
//   - pipeline: resolve, validate, authorize, invoke, and report one call
//   - manifest / openapi: serialized descriptions of the registry
//   - events / observability: call events and metric observations
//
// Transport concerns (HTTP, CLI, persistence) live in sibling packages and
// consume this package through Registry, Pipeline, and EventHandler.
package tool
