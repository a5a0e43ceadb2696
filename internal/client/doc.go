// Package client is the public pub/sub engine facade.
//
// A Client owns the desired subscription table, the reconciler keeping
// server-side state converged with it, the dispatcher delivering
// inbound messages, and the introspection facade. Construction wires
// the pieces to an injected Transport and TopologyView; Close tears
// them down in reverse order and is safe to call concurrently with
// in-flight callbacks.
//
// The Registry maps stable opaque handles to live clients for embedders
// that cannot hold Go pointers across their boundary.
package client
