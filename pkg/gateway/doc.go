// Package gateway exposes conversations over WebSocket.
//
// Each connection to /chat?session_id=<id> gets its own agent and session
// service. Text frames from the client are questions; the server answers
// with streamed text frames terminated by "[END]". Turns for the same session
// id run one at a time across connections.
package gateway
