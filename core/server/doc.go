// Package server wraps http.Server with graceful shutdown for the broker's
// WebSocket listener.
//
// Per-request read and write timeouts are intentionally absent: broker
// connections are long-lived streams and an http.Server write timeout would
// sever them mid-session. The idle timeout only applies to keep-alive
// connections that never upgraded.
package server
