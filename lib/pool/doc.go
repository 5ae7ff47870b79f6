// Package pool provides an elastic, generation-based pool of fixed-size byte buffers.
// It is used by the transport layer to bound the memory spent on per-connection
// receive buffers while still allowing the pool to grow under load and to contract
// again once the load is gone.
//
// The package focuses on:
//   - Allocation-free steady state: Get and Return only move handles between a
//     free-list and the caller, no buffer is allocated after warm-up
//   - Elastic growth: when only 20% of the buffers are left, the pool doubles its
//     capacity in the background, tagging the new buffers with a new generation
//   - Lazy contraction: Shrink retires the newest generation in O(1); the buffers of
//     that generation are dropped one by one when they are returned
//
// Key Components:
//
//   - BufferPool: The pool itself. Get never blocks on external I/O; when the
//     free-list is empty during an expansion the caller spins for a bounded number
//     of iterations and then falls back to short sleeps until a buffer is available.
//
//   - Buffer: A handle to one pooled byte slice. A buffer is exclusively owned by the
//     caller between Get and Return; returning a buffer twice is a no-op.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. The free-list is protected by a mutex,
//	counters are atomic and the generation registry is a concurrent map. The
//	expansion flag and the generation stack are the only pool-wide serialization
//	points and are only held during Expand and Shrink.
package pool
