// Package bridge forwards topic elements to external brokers.
//
// Each configured bridge joins every matching topic as a durable subscriber group named
// "bridge-<name>" and relays what it reads to a Sink. Elements are forwarded in channel order
// and keyed by channel, so a broker that partitions by key keeps the per-channel order.
//
// Sinks register themselves by type from their own package:
//
//	import _ "github.com/maxpert/gridtopic/bridge/sink"
package bridge
