// Package mcp exposes the federated daemon as Model Context Protocol tools
// over stdio.
//
// The server holds no platform state. Every tool call is forwarded to a
// running daemon through its control API, so an assistant sees the same
// stores, index and rule engine as fedctl does.
package mcp
