// Package engine is the serialized command executor. Every command a
// session issues passes through one pipeline: busy gate, transaction
// queueing, cluster slot routing, write fences, the handler itself, and
// finally effect propagation. Handlers never write to the replication
// stream directly; they record canonical effect commands on their
// invocation and the pipeline feeds those to the propagator (and through
// it to the append log) exactly once per batch.
package engine
