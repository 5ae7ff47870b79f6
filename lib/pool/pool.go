package pool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("remoting/pool")

const (
	// expandDivisor triggers an expansion once only 1/expandDivisor (20%) of the buffers are left
	expandDivisor = 5

	// maxSpinIterations is the number of yields before a waiting Get falls back to sleeping
	maxSpinIterations = 64

	// spinSleep is the sleep used by a waiting Get after spinning
	spinSleep = 50 * time.Microsecond
)

var (
	expansionsTotal = metrics.GetOrCreateCounter(`remoting_pool_expansions_total`)
	shrinksTotal    = metrics.GetOrCreateCounter(`remoting_pool_shrinks_total`)
	droppedTotal    = metrics.GetOrCreateCounter(`remoting_pool_dropped_buffers_total`)
)

// --------------------------------------------------------------------------
// Buffer
// --------------------------------------------------------------------------

// Buffer is a handle to a single pooled byte slice.
type Buffer struct {
	// Bytes is the fixed-size backing slice. Its length never changes.
	Bytes []byte

	handle     uint64
	checkedOut atomic.Bool
}

// Handle returns the pool-unique handle of the buffer
func (b *Buffer) Handle() uint64 {
	return b.handle
}

// --------------------------------------------------------------------------
// BufferPool
// --------------------------------------------------------------------------

// BufferPool recycles fixed-size byte buffers and grows or shrinks by generation.
type BufferPool struct {
	itemSize     int
	initialCount int

	// LIFO free-list
	storeMu sync.Mutex
	store   []*Buffer

	// handle -> generation id of every live buffer
	registry *xsync.MapOf[uint64, uint32]
	// generation ids retired by Shrink
	retired *xsync.MapOf[uint32, struct{}]

	nextHandle      atomic.Uint64
	totalCount      atomic.Int64
	availableCount  atomic.Int64
	expandThreshold atomic.Int64
	inExpanding     atomic.Bool

	// stack of live generation ids, the last entry is the current generation
	genMu          sync.Mutex
	generations    []uint32
	nextGeneration uint32
}

// NewBufferPool creates a pool with initialCount pre-allocated buffers of itemSize bytes
// each. Both values must be positive.
func NewBufferPool(itemSize, initialCount int) (*BufferPool, error) {
	if itemSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", itemSize)
	}
	if initialCount <= 0 {
		return nil, fmt.Errorf("initial count of pool must be positive, got %d", initialCount)
	}

	p := &BufferPool{
		itemSize:     itemSize,
		initialCount: initialCount,
		store:        make([]*Buffer, 0, initialCount),
		registry:     xsync.NewMapOf[uint64, uint32](),
		retired:      xsync.NewMapOf[uint32, struct{}](),
		generations:  []uint32{0},
	}

	p.pushAll(p.create(initialCount, 0))
	p.totalCount.Store(int64(initialCount))
	p.updateExpandThreshold()

	return p, nil
}

// ItemSize returns the size in bytes of every buffer of the pool
func (p *BufferPool) ItemSize() int {
	return p.itemSize
}

// TotalCount returns the number of buffers owned by the pool (free and checked out)
func (p *BufferPool) TotalCount() int {
	return int(p.totalCount.Load())
}

// AvailableCount returns the number of buffers currently on the free-list
func (p *BufferPool) AvailableCount() int {
	return int(p.availableCount.Load())
}

// Generation returns how many expansions are currently live (0 = only the initial buffers)
func (p *BufferPool) Generation() int {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	return len(p.generations) - 1
}

// Get takes a buffer from the pool. It never fails: if the free-list is empty the
// pool is expanded, and if an expansion is already running the caller waits for it.
func (p *BufferPool) Get() *Buffer {
	for {
		if buf, ok := p.pop(); ok {
			available := p.availableCount.Add(-1)

			// require expand
			if available <= p.expandThreshold.Load() && !p.inExpanding.Load() {
				go p.tryExpand(p.belowThreshold)
			}

			buf.checkedOut.Store(true)
			return buf
		}

		// in expanding -> wait until a buffer shows up or the expansion is done
		if p.inExpanding.Load() {
			p.waitForExpansion()
			continue
		}

		p.tryExpand(p.storeEmpty)
	}
}

// Return gives a buffer back to the pool. Buffers of a generation retired by Shrink are
// dropped instead of recycled. Returning a buffer that is not checked out is a no-op.
func (p *BufferPool) Return(buf *Buffer) {
	if buf == nil || !buf.checkedOut.CompareAndSwap(true, false) {
		return
	}

	generation, ok := p.registry.Load(buf.handle)
	if !ok {
		return
	}

	if _, retired := p.retired.Load(generation); retired {
		p.registry.Delete(buf.handle)
		p.totalCount.Add(-1)
		p.updateExpandThreshold()
		droppedTotal.Inc()
		return
	}

	p.storeMu.Lock()
	p.store = append(p.store, buf)
	p.storeMu.Unlock()
	p.availableCount.Add(1)
}

// Shrink retires the current generation if more than 75% of the buffers are free and
// at least one expansion is live. Returns whether the pool was shrunk.
func (p *BufferPool) Shrink() bool {
	p.genMu.Lock()
	defer p.genMu.Unlock()

	if len(p.generations) <= 1 {
		return false
	}

	shrinkThreshold := p.totalCount.Load() * 3 / 4
	if p.availableCount.Load() <= shrinkThreshold {
		return false
	}

	generation := p.generations[len(p.generations)-1]
	p.generations = p.generations[:len(p.generations)-1]
	p.retired.Store(generation, struct{}{})

	shrinksTotal.Inc()
	Logger.Debugf("Buffer pool shrunk, retired generation: %d, total: %d, available: %d",
		generation, p.totalCount.Load(), p.availableCount.Load())
	return true
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// tryExpand runs an expansion if no other one is running and needed still holds
// once the expansion flag is owned
func (p *BufferPool) tryExpand(needed func() bool) bool {
	if !p.inExpanding.CompareAndSwap(false, true) {
		return false
	}
	defer p.inExpanding.Store(false)

	if !needed() {
		return false
	}

	p.expand()
	return true
}

// expand doubles the capacity of the pool with buffers of a new generation
func (p *BufferPool) expand() {
	count := int(p.totalCount.Load())
	if count < p.initialCount {
		count = p.initialCount
	}

	p.genMu.Lock()
	p.nextGeneration++
	generation := p.nextGeneration
	p.generations = append(p.generations, generation)
	p.genMu.Unlock()

	items := p.create(count, generation)
	p.totalCount.Add(int64(count))
	p.pushAll(items)
	p.updateExpandThreshold()

	expansionsTotal.Inc()
	Logger.Debugf("Buffer pool expanded, generation: %d, total: %d", generation, p.totalCount.Load())
}

// create allocates count buffers and registers them with the given generation
func (p *BufferPool) create(count int, generation uint32) []*Buffer {
	items := make([]*Buffer, count)
	for i := range items {
		buf := &Buffer{
			Bytes:  make([]byte, p.itemSize),
			handle: p.nextHandle.Add(1),
		}
		p.registry.Store(buf.handle, generation)
		items[i] = buf
	}
	return items
}

func (p *BufferPool) pushAll(items []*Buffer) {
	p.storeMu.Lock()
	p.store = append(p.store, items...)
	p.storeMu.Unlock()
	p.availableCount.Add(int64(len(items)))
}

func (p *BufferPool) pop() (*Buffer, bool) {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	n := len(p.store)
	if n == 0 {
		return nil, false
	}
	buf := p.store[n-1]
	p.store[n-1] = nil
	p.store = p.store[:n-1]
	return buf, true
}

func (p *BufferPool) storeEmpty() bool {
	p.storeMu.Lock()
	defer p.storeMu.Unlock()
	return len(p.store) == 0
}

func (p *BufferPool) belowThreshold() bool {
	return p.availableCount.Load() <= p.expandThreshold.Load()
}

// waitForExpansion spins, then sleeps, until a buffer is free or the expansion finished
func (p *BufferPool) waitForExpansion() {
	for i := 0; p.inExpanding.Load(); i++ {
		if !p.storeEmpty() {
			return
		}
		if i < maxSpinIterations {
			runtime.Gosched()
		} else {
			time.Sleep(spinSleep)
		}
	}
}

func (p *BufferPool) updateExpandThreshold() {
	p.expandThreshold.Store(p.totalCount.Load() / expandDivisor)
}
