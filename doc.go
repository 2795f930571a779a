// Package datamcp implements a JSON-RPC tool-invocation server in the style
// of the Model Context Protocol, built for editor extensions that issue
// discrete calls over HTTP while holding a long-lived server-sent event
// stream for readiness, capability, and heartbeat notifications.
//
// The package provides the protocol envelope codec, the tool registry, the
// method dispatcher with its per-client lifecycle, and the streaming session
// manager. Data-source access is delegated to a pluggable Backend; the
// backends/stub package ships the fixture implementation.
package datamcp
