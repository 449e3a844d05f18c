// Package registry tracks live client connections grouped by channel.
//
// All access goes through one RWMutex. Readers get point-in-time copies so
// broadcasts never hold the lock while writing to sockets.
package registry
