// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files: event.go holds the immutable event messages sent to
// WebSocket clients, channel.go the well-known channels and entity routing,
// connection.go the registered connection and its sender contract.
// Interfaces live here so the registry, broadcaster and app layers never import each other.
package domain
