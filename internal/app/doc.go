// Package app provides the application layer.
//
// Emitter is the facade CRUD collaborators call after a commit: it builds
// events and hands them to the broadcast dispatcher. StatsReporter answers
// read-only questions about who is connected where.
package app
