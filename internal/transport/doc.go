// Package transport defines the interface the pub/sub engine consumes
// from the connection layer.
//
// The engine never touches sockets: it issues commands through Send,
// receives server pushes through a registered push handler, and learns
// about connection state changes through a registered state handler.
// The wire protocol, pooling, and TLS all live behind this interface.
//
// The memtransport subpackage provides an in-memory multi-node
// implementation used by the tests and the probe CLI.
package transport
