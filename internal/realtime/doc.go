// Package realtime contains the websocket gateway, the in-memory connection
// registry, and the broadcast engine that couples live delivery to durable
// message storage.
package realtime
