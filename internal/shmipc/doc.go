// Package shmipc implements the shared-memory IPC and flow-control
// subsystem that couples proxy workers to cache workers: the segment
// pool, the per-segment rendezvous protocol, and the two-semaphore
// handshake that keeps both sides in lockstep across a file transfer.
package shmipc
