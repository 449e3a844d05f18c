// Package broadcast fans events out to every connection on a channel.
//
// Broadcaster delivers one event synchronously: encode once, snapshot the
// registry, write to each member in parallel under a per-send timeout, and
// evict members whose write fails. Dispatcher sits in front of it so
// publishers never wait: events go onto per-channel worker queues and are
// broadcast in publish order.
package broadcast
