// Package ring implements the lock-free, multi-producer / (generally)
// single-consumer circular buffer that underlies every recorder channel.
//
// A Buffer stores fixed-size records in a power-of-two slot array and
// tracks four positions — reader, writer, commit, overflow — as plain
// uint64 words reached through sync/atomic. Those words are ordinary Go
// memory for an in-process Buffer, but nothing in this package requires
// that: New also accepts counters and a data region that live inside a
// memory-mapped file, which is how package shm projects a Buffer for an
// out-of-process reader without any IPC round-trip.
//
// No operation here acquires a mutex. Read reports a short count under
// back-pressure instead of blocking, unless the caller supplies a
// WaitPolicy. Write always claims its full count, overwriting records the
// reader has not reached, and waits only for earlier writers to commit.
package ring
