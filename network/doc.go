// Package network carries authenticated event frames between clients and the
// gateway over TCP (4-byte length prefix) and WebSocket (one text message per
// frame).
//
// Listen and NewWebSocketHandler are the server side. Dial and Client are the
// TCP client SDK for Go programs talking to a gateway: Dial answers the
// challenge with a JWT, an asserted wallet, or a wallet signature made with
// DialOptions.PrivateKey, and Client.Receive answers keepalive pings.
package network
