// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Keeps one logical WebSocket channel connected to a single endpoint
//   - Owns at most one transport handle at a time
//   - Reconnects after a fixed backoff, with an optional attempt cap
//   - Sends a heartbeat after a quiet interval and closes the handle when
//     nothing arrives within the pong deadline
//   - Treats any inbound message as proof of liveness
//   - Stops for good on Close
//
// Transports are pluggable through Dialer; WebsocketDialer is the default.
package connection
