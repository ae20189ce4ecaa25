// Package journal records what happens on a managed channel.
//
// A Recorder wraps connection.Hooks so that every lifecycle event and inbound
// message becomes an Entry, copied into each subscribed Queue. Sinks such as
// the archive writer and the Redis relay drain their own queue at their own
// pace.
package journal
