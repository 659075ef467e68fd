// Package eventstreamer is an event streaming gateway. Clients publish
// metric-style events into named, durably-ordered topics over WebSocket,
// and subscribe to derived views of those topics: the raw stream, a
// filtered sub-stream, a key-based join window, or a time-windowed
// numeric aggregation.
//
// Topics are backed by NATS JetStream streams, one stream per topic, and
// every published record is additionally persisted to a SQLite snapshot
// store that serves the catch-up phase of filtered subscriptions. The
// per-session transformation engine lives in the stream package; the
// WebSocket transport in server; topic provisioning and the dual-sink
// publish path in topic.
package eventstreamer
