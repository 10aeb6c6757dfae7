// Package zone implements a persistent circular log buffer laid out over a
// caller-supplied byte region. Each zone carries a small live header
// (signature, write head, fill size), a payload area written as a ring, and
// an optional Reed-Solomon parity area kept in step with every write so
// that content survives partial corruption of the underlying medium.
package zone

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/muninndb/muninn/pkg/ecc"
)

// zoneMagic is the base on-media signature ("DBGC" little-endian). The
// per-zone tag is XORed in so zones of different roles never validate
// against each other's bytes.
const zoneMagic uint32 = 0x43474244

// headerSize covers the signature, write head and fill size, u32 LE each.
const headerSize = 12

var (
	// ErrBadConfig indicates the zone geometry cannot work: region too
	// small, parity overhead eating the whole data area, bad stride.
	ErrBadConfig = errors.New("zone: invalid configuration")

	// ErrContended is returned by TryAppend when the zone lock is held
	// and the caller declared it cannot block.
	ErrContended = errors.New("zone: buffer contended")
)

// Options configures a zone buffer attached over a byte region.
type Options struct {
	// Name identifies the zone in logs and errors.
	Name string

	// Tag is XORed with the magic to form the expected signature, so a
	// role or generation change invalidates prior content.
	Tag uint32

	// Codec supplies forward error correction. Nil disables redundancy
	// and gives the whole data area to the payload ring.
	Codec ecc.Codec

	// NoLock skips internal locking. Only valid when the caller
	// guarantees a single producer for the zone's lifetime.
	NoLock bool

	// ZapOld resets the live region after prior content has been
	// migrated to the snapshot at attach time. Zones whose content must
	// stay on media until explicitly read leave this false.
	ZapOld bool

	Logger log.Logger
}

// Report summarizes the redundancy activity of a zone.
type Report struct {
	Enabled   bool
	Corrected int // corrected symbol count, cumulative
	BadBlocks int // blocks past correction capability, cumulative
}

// Notice renders the report in the form appended to records handed out by
// the read path. It is empty when redundancy is disabled.
func (r Report) Notice() string {
	if !r.Enabled {
		return ""
	}
	if r.Corrected > 0 || r.BadBlocks > 0 {
		return fmt.Sprintf("\nECC: %d Corrected bytes, %d unrecoverable blocks\n", r.Corrected, r.BadBlocks)
	}
	return "\nECC: No errors detected\n"
}

// Add accumulates another report, as done when several zones are surfaced
// as one merged record.
func (r Report) Add(o Report) Report {
	return Report{
		Enabled:   r.Enabled || o.Enabled,
		Corrected: r.Corrected + o.Corrected,
		BadBlocks: r.BadBlocks + o.BadBlocks,
	}
}

// Buffer is a single zone: a circular payload log plus its parity area,
// both living inside the attached region. The region's first bytes hold
// the live header; everything the buffer does is reflected there
// immediately, so a crash at any point leaves an attachable zone.
type Buffer struct {
	opts   Options
	logger log.Logger

	mu sync.Mutex

	mem  []byte // full region including header
	data []byte // payload ring + parity area

	capacity   int
	blockSize  int
	paritySize int
	par        []byte // payload parity, one blob per block
	parHeader  []byte // header parity, last blob in the region

	corrected int
	badBlocks int

	oldLog []byte
}

// Attach lays a zone over mem. Prior content is validated (signature,
// header plausibility, header parity) and, when intact, migrated into the
// old-content snapshot; corrupt or foreign content is discarded and the
// zone reset. The returned buffer owns mem until the arena goes away.
func Attach(mem []byte, opts Options) (*Buffer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if len(mem) <= headerSize {
		return nil, fmt.Errorf("%w: zone %q: region of %d bytes leaves no data area",
			ErrBadConfig, opts.Name, len(mem))
	}

	z := &Buffer{
		opts:   opts,
		logger: logger,
		mem:    mem,
		data:   mem[headerSize:],
	}
	z.capacity = len(z.data)

	if opts.Codec != nil {
		bsz, psz := opts.Codec.BlockSize(), opts.Codec.ParitySize()
		if len(z.data) <= psz {
			return nil, fmt.Errorf("%w: zone %q: data area of %d bytes cannot hold parity",
				ErrBadConfig, opts.Name, len(z.data))
		}
		blocks := (len(z.data) - psz + bsz + psz - 1) / (bsz + psz)
		total := (blocks + 1) * psz
		if total >= len(z.data) {
			return nil, fmt.Errorf("%w: zone %q: parity overhead %d swallows data area %d",
				ErrBadConfig, opts.Name, total, len(z.data))
		}
		z.blockSize = bsz
		z.paritySize = psz
		z.capacity = len(z.data) - total
		z.par = z.data[z.capacity : z.capacity+blocks*psz]
		z.parHeader = z.data[z.capacity+blocks*psz : z.capacity+total]

		// The header has its own parity blob; repair it before trusting
		// the signature and counters.
		n, err := opts.Codec.Decode(z.mem[:headerSize], z.parHeader)
		if err != nil {
			z.badBlocks++
		} else {
			z.corrected += n
		}
	}

	want := zoneMagic ^ opts.Tag
	got := binary.LittleEndian.Uint32(z.mem[0:4])
	start, size := z.start(), z.size()

	switch {
	case got != want:
		level.Debug(logger).Log("msg", "no valid content", "zone", opts.Name, "sig", fmt.Sprintf("%#x", got))
		binary.LittleEndian.PutUint32(z.mem[0:4], want)
		z.clear()
	case size == 0:
		level.Debug(logger).Log("msg", "found existing empty buffer", "zone", opts.Name)
	case size > z.capacity || start > size:
		level.Warn(logger).Log("msg", "found existing invalid buffer, discarding",
			"zone", opts.Name, "start", start, "size", size, "capacity", z.capacity)
		z.clear()
	default:
		level.Info(logger).Log("msg", "found existing buffer", "zone", opts.Name,
			"size", size, "start", start)
		z.saveOld()
		if opts.ZapOld {
			z.clear()
		}
	}
	return z, nil
}

// Name returns the zone's configured name.
func (z *Buffer) Name() string { return z.opts.Name }

// Capacity returns the payload bytes the ring can hold.
func (z *Buffer) Capacity() int { return z.capacity }

func (z *Buffer) start() int {
	return int(binary.LittleEndian.Uint32(z.mem[4:8]))
}

func (z *Buffer) setStart(v int) {
	binary.LittleEndian.PutUint32(z.mem[4:8], uint32(v))
}

func (z *Buffer) size() int {
	return int(binary.LittleEndian.Uint32(z.mem[8:12]))
}

func (z *Buffer) setSize(v int) {
	binary.LittleEndian.PutUint32(z.mem[8:12], uint32(v))
}

func (z *Buffer) lock() {
	if !z.opts.NoLock {
		z.mu.Lock()
	}
}

func (z *Buffer) unlock() {
	if !z.opts.NoLock {
		z.mu.Unlock()
	}
}

// Size returns the live payload byte count.
func (z *Buffer) Size() int {
	z.lock()
	defer z.unlock()
	return z.size()
}

// startAdd advances the write head by a, wrapping at capacity, and returns
// the head's prior position, which is where the caller writes.
func (z *Buffer) startAdd(a int) int {
	old := z.start()
	next := old + a
	for next >= z.capacity {
		next -= z.capacity
	}
	z.setStart(next)
	return old
}

// sizeAdd grows the fill size by a, saturating at capacity once the ring
// has wrapped.
func (z *Buffer) sizeAdd(a int) {
	sz := z.size()
	if sz == z.capacity {
		return
	}
	sz += a
	if sz > z.capacity {
		sz = z.capacity
	}
	z.setSize(sz)
}

// updateECC recomputes the parity blobs for every block touched by a write
// of count bytes at off. The last block of the ring is shortened.
func (z *Buffer) updateECC(off, count int) {
	if z.opts.Codec == nil {
		return
	}
	end := off + count
	for i := off / z.blockSize; i*z.blockSize < end; i++ {
		lo := i * z.blockSize
		hi := lo + z.blockSize
		if hi > z.capacity {
			hi = z.capacity
		}
		z.opts.Codec.Encode(z.data[lo:hi], z.par[i*z.paritySize:(i+1)*z.paritySize])
	}
}

func (z *Buffer) updateHeaderECC() {
	if z.opts.Codec == nil {
		return
	}
	z.opts.Codec.Encode(z.mem[:headerSize], z.parHeader)
}

func (z *Buffer) update(src []byte, off int) {
	copy(z.data[off:], src)
	z.updateECC(off, len(src))
}

// Append writes p into the ring, evicting the oldest bytes once full. A
// write larger than the whole ring keeps only its newest tail. Returns the
// number of bytes stored.
func (z *Buffer) Append(p []byte) int {
	z.lock()
	defer z.unlock()
	return z.append(p)
}

// TryAppend is Append for callers that must not block: if the zone lock is
// held it gives up immediately with ErrContended.
func (z *Buffer) TryAppend(p []byte) (int, error) {
	if !z.opts.NoLock {
		if !z.mu.TryLock() {
			return 0, ErrContended
		}
		defer z.mu.Unlock()
	}
	return z.append(p), nil
}

func (z *Buffer) append(p []byte) int {
	c := len(p)
	if c > z.capacity {
		p = p[c-z.capacity:]
		c = z.capacity
	}
	if c == 0 {
		return 0
	}
	z.sizeAdd(c)
	off := z.startAdd(c)
	if rem := z.capacity - off; rem < c {
		z.update(p[:rem], off)
		p = p[rem:]
		off = 0
	}
	z.update(p, off)
	z.updateHeaderECC()
	return c
}

// AppendFrom copies count bytes out of r into the ring. The source may
// fault mid-copy; the ring counters have already moved by then, so the
// parity is still recomputed over the whole attempted range and the fault
// is reported wrapped. Oversized writes skip the source's stale head the
// same way Append drops it.
func (z *Buffer) AppendFrom(r io.Reader, count int) (int, error) {
	z.lock()
	defer z.unlock()

	c := count
	if c > z.capacity {
		if _, err := io.CopyN(io.Discard, r, int64(c-z.capacity)); err != nil {
			return 0, fmt.Errorf("zone %q: drain source head: %w", z.opts.Name, err)
		}
		c = z.capacity
	}
	if c == 0 {
		return 0, nil
	}
	z.sizeAdd(c)
	off := z.startAdd(c)
	stored := c

	var err error
	if rem := z.capacity - off; rem < c {
		err = z.readInto(r, off, rem)
		off = 0
		c -= rem
	}
	if err == nil {
		err = z.readInto(r, off, c)
	}
	z.updateHeaderECC()
	if err != nil {
		return stored, fmt.Errorf("zone %q: copy from source: %w", z.opts.Name, err)
	}
	return stored, nil
}

// readInto fills data[off:off+count] from r. Parity is recomputed even on
// a short read so the parity area never disagrees with the bytes actually
// on media.
func (z *Buffer) readInto(r io.Reader, off, count int) error {
	_, err := io.ReadFull(r, z.data[off:off+count])
	z.updateECC(off, count)
	return err
}

// SaveOld snapshots the live content in arrival order, repairing it via
// the parity first. The first call captures; later calls are no-ops until
// ReleaseOld, so the read path may call it freely.
func (z *Buffer) SaveOld() {
	z.lock()
	defer z.unlock()
	z.saveOld()
}

func (z *Buffer) saveOld() {
	if z.oldLog != nil {
		return
	}
	size := z.size()
	if size == 0 {
		return
	}
	z.eccOld(size)
	start := z.start()
	old := make([]byte, size)
	copy(old, z.data[start:size])
	copy(old[size-start:], z.data[:start])
	z.oldLog = old
}

// eccOld runs a correction pass over the live payload blocks, fixing what
// the parity can fix and counting what it cannot.
func (z *Buffer) eccOld(size int) {
	if z.opts.Codec == nil {
		return
	}
	for i := 0; i*z.blockSize < size; i++ {
		lo := i * z.blockSize
		hi := lo + z.blockSize
		if hi > z.capacity {
			hi = z.capacity
		}
		n, err := z.opts.Codec.Decode(z.data[lo:hi], z.par[i*z.paritySize:(i+1)*z.paritySize])
		if err != nil {
			z.badBlocks++
			level.Warn(z.logger).Log("msg", "unrecoverable block", "zone", z.opts.Name, "block", i)
		} else {
			z.corrected += n
		}
	}
}

// Old returns the snapshot taken by SaveOld, nil if none is held.
func (z *Buffer) Old() []byte {
	z.lock()
	defer z.unlock()
	return z.oldLog
}

// OldSize returns the length of the held snapshot.
func (z *Buffer) OldSize() int {
	z.lock()
	defer z.unlock()
	return len(z.oldLog)
}

// ReleaseOld drops the snapshot so a later SaveOld captures fresh content.
func (z *Buffer) ReleaseOld() {
	z.lock()
	defer z.unlock()
	z.oldLog = nil
}

// Clear resets the live region to empty. The payload bytes are left in
// place; only the header (and its parity) change.
func (z *Buffer) Clear() {
	z.lock()
	defer z.unlock()
	z.clear()
}

func (z *Buffer) clear() {
	z.setStart(0)
	z.setSize(0)
	z.updateHeaderECC()
}

// EccReport returns the zone's cumulative redundancy counters.
func (z *Buffer) EccReport() Report {
	z.lock()
	defer z.unlock()
	return Report{
		Enabled:   z.opts.Codec != nil,
		Corrected: z.corrected,
		BadBlocks: z.badBlocks,
	}
}
