// Package contracts defines the protocol vocabulary shared by every layer of
// the client: the wire envelope, task handles and status snapshots, and the
// structured error taxonomy returned by the bridge and the task poller.
//
// Nothing in this package talks to the network. The types here are the
// boundary between the transport-facing core and the domain facades built on
// top of it.
package contracts
