// Package transport implements the four wire-level shapes the
// capability registry exposes: a shared TCP server multiplexing
// WebSocket upgrades and HTTP POSTs by path (C2), a WebSocket client
// reconnect loop (C3), and an HTTP client bot pseudo-connection (C4).
// Each concrete implementation registers itself with the capability
// package's registries in init. The runtime package imports this one
// only for that side effect (a blank import); everything else reaches
// the transports through internal/capability.
package transport
