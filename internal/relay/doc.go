// Package relay republishes channel traffic on Redis pub/sub.
package relay
