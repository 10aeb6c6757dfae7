// Package store carves one backing region into typed crash-log zones and
// dispatches records between them and their consumers. Zones are laid out
// in a fixed order so any build of the engine can re-attach a region
// written by another: rotating dump slots first, then the console ring,
// the per-producer trace shards, and the externally sourced message ring.
package store

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/ksuid"

	"github.com/muninndb/muninn/pkg/arena"
	"github.com/muninndb/muninn/pkg/ecc"
	"github.com/muninndb/muninn/pkg/zone"
)

// traceGeneration tags trace zone signatures so shards written by an
// incompatible record layout are discarded instead of merged. Bump when
// TraceRecordStride or the record layout changes.
const traceGeneration uint32 = 0x10001

// Config describes how the region is carved. Sizes that are not powers of
// two are rounded down to one; a zero size leaves that zone type out. The
// dump area is whatever the fixed-size types leave behind, split into
// RecordSize slots.
type Config struct {
	RecordSize  int // one dump slot
	ConsoleSize int
	TraceSize   int // total across shards
	MsgSize     int

	// TraceShards splits the trace area into single-producer zones.
	// With more than one shard the zones run lock-free; a lone shard is
	// shared and locked.
	TraceShards int

	ECCEnabled bool
	ECC        ecc.Params

	Logger     log.Logger
	Registerer prometheus.Registerer
}

// Store is the zone registry. Writes may run concurrently (each zone
// serializes itself); the read session bracket is single-consumer and
// callers provide that exclusion.
type Store struct {
	cfg     Config
	logger  log.Logger
	metrics *Metrics
	arena   arena.Arena

	dumps   []*zone.Buffer
	console *zone.Buffer
	traces  []*zone.Buffer
	msg     *zone.Buffer

	mu         sync.RWMutex
	closed     bool
	dumpCursor int // next dump slot to overwrite

	session     string
	dumpReadCnt int
	consoleRead bool
	msgRead     bool
	traceRead   bool
}

// ZoneReport describes one zone's occupancy and redundancy state.
type ZoneReport struct {
	Name     string      `json:"name"`
	Type     RecordType  `json:"-"`
	TypeName string      `json:"type"`
	Instance int         `json:"instance"`
	Size     int         `json:"size"`
	Capacity int         `json:"capacity"`
	Ecc      zone.Report `json:"ecc"`
	Notice   string      `json:"notice,omitempty"`
}

func roundDownPow2(v int) int {
	if v <= 0 {
		return 0
	}
	p := 1
	for p<<1 <= v {
		p <<= 1
	}
	return p
}

// Open carves the arena per cfg and attaches every zone, migrating or
// discarding prior content zone by zone. The store borrows the arena; the
// caller closes it after the store.
func Open(cfg Config, a arena.Arena) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	cfg.RecordSize = roundDownPow2(cfg.RecordSize)
	cfg.ConsoleSize = roundDownPow2(cfg.ConsoleSize)
	cfg.TraceSize = roundDownPow2(cfg.TraceSize)
	cfg.MsgSize = roundDownPow2(cfg.MsgSize)
	if cfg.TraceSize > 0 {
		if cfg.TraceShards <= 0 {
			cfg.TraceShards = 1
		}
		cfg.TraceShards = roundDownPow2(cfg.TraceShards)
	}

	mem := a.Bytes()
	total := len(mem)
	fixed := cfg.ConsoleSize + cfg.TraceSize + cfg.MsgSize
	if fixed > total {
		return nil, fmt.Errorf("%w: fixed zones need %d bytes, region holds %d",
			zone.ErrBadConfig, fixed, total)
	}

	dumpMem := total - fixed
	dumpCnt := 0
	if cfg.RecordSize > 0 {
		dumpCnt = dumpMem / cfg.RecordSize
	}
	if dumpCnt == 0 && fixed == 0 {
		return nil, fmt.Errorf("%w: region of %d bytes yields no zones", zone.ErrBadConfig, total)
	}

	newCodec := func() (ecc.Codec, error) {
		if !cfg.ECCEnabled {
			return nil, nil
		}
		// One coder per zone: the coder keeps decode scratch and zones
		// append concurrently.
		return ecc.New(cfg.ECC)
	}

	s := &Store{
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(cfg.Registerer),
		arena:   a,
	}

	off := 0
	for i := 0; i < dumpCnt; i++ {
		c, err := newCodec()
		if err != nil {
			return nil, err
		}
		z, err := zone.Attach(mem[off:off+cfg.RecordSize], zone.Options{
			Name:   fmt.Sprintf("dump%d", i),
			Codec:  c,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		s.dumps = append(s.dumps, z)
		off += cfg.RecordSize
	}
	// Slack between the last dump slot and the console stays unused so
	// the fixed zones keep stable offsets for any record size.
	off = total - fixed

	if cfg.ConsoleSize > 0 {
		c, err := newCodec()
		if err != nil {
			return nil, err
		}
		z, err := zone.Attach(mem[off:off+cfg.ConsoleSize], zone.Options{
			Name:   "console",
			Codec:  c,
			ZapOld: true,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		s.console = z
		off += cfg.ConsoleSize
	}

	if cfg.TraceSize > 0 {
		shardSize := cfg.TraceSize / cfg.TraceShards
		for i := 0; i < cfg.TraceShards; i++ {
			c, err := newCodec()
			if err != nil {
				return nil, err
			}
			z, err := zone.Attach(mem[off:off+shardSize], zone.Options{
				Name:   fmt.Sprintf("trace%d", i),
				Tag:    traceGeneration,
				Codec:  c,
				NoLock: cfg.TraceShards > 1,
				ZapOld: true,
				Logger: logger,
			})
			if err != nil {
				return nil, err
			}
			s.traces = append(s.traces, z)
			off += shardSize
		}
	}

	if cfg.MsgSize > 0 {
		c, err := newCodec()
		if err != nil {
			return nil, err
		}
		z, err := zone.Attach(mem[off:off+cfg.MsgSize], zone.Options{
			Name:   "msg",
			Codec:  c,
			ZapOld: true,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		s.msg = z
	}

	level.Info(logger).Log("msg", "region carved",
		"total", total, "dumps", dumpCnt, "record_size", cfg.RecordSize,
		"console", cfg.ConsoleSize, "trace", cfg.TraceSize,
		"trace_shards", len(s.traces), "msg", cfg.MsgSize, "ecc", cfg.ECCEnabled)
	return s, nil
}

// OpenSession starts the read bracket, rewinding the scan cursors, and
// returns a session ID for correlation. One session at a time.
func (s *Store) OpenSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	if s.session != "" {
		return "", ErrSessionActive
	}
	s.session = ksuid.New().String()
	s.dumpReadCnt = 0
	s.consoleRead = false
	s.msgRead = false
	s.traceRead = false
	level.Debug(s.logger).Log("msg", "read session opened", "session", s.session)
	return s.session, nil
}

// CloseSession ends the read bracket.
func (s *Store) CloseSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.session == "" {
		return ErrNoSession
	}
	level.Debug(s.logger).Log("msg", "read session closed", "session", s.session)
	s.session = ""
	return nil
}

// Read returns the next record of the session's scan, walking zone types
// in priority order: dumps, console, messages, then the merged trace log.
// io.EOF signals the end of the scan. Zones whose content no longer
// parses are reset and skipped.
func (s *Store) Read() (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.session == "" {
		return nil, ErrNoSession
	}

	for s.dumpReadCnt < len(s.dumps) {
		i := s.dumpReadCnt
		s.dumpReadCnt++
		if rec := s.readDump(i); rec != nil {
			s.metrics.reads.WithLabelValues(TypeDump.String()).Inc()
			return rec, nil
		}
	}

	if !s.consoleRead {
		s.consoleRead = true
		if rec := s.readRing(s.console, TypeConsole); rec != nil {
			s.metrics.reads.WithLabelValues(TypeConsole.String()).Inc()
			return rec, nil
		}
	}

	if !s.msgRead {
		s.msgRead = true
		if rec := s.readRing(s.msg, TypeMsg); rec != nil {
			s.metrics.reads.WithLabelValues(TypeMsg.String()).Inc()
			return rec, nil
		}
	}

	if !s.traceRead {
		s.traceRead = true
		rec, err := s.readTraces()
		if err != nil {
			return nil, err
		}
		if rec != nil {
			s.metrics.reads.WithLabelValues(TypeTrace.String()).Inc()
			return rec, nil
		}
	}

	return nil, io.EOF
}

func (s *Store) readDump(i int) *Record {
	z := s.dumps[i]
	z.SaveOld()
	old := z.Old()
	if len(old) == 0 {
		return nil
	}
	ts, compressed, payload, ok := parseDumpHeader(old)
	if !ok {
		level.Info(s.logger).Log("msg", "unparsable dump header, clearing zone", "zone", z.Name())
		z.ReleaseOld()
		z.Clear()
		s.metrics.zonesCleared.Inc()
		return nil
	}
	return &Record{
		Type:       TypeDump,
		Instance:   i,
		Part:       1,
		Time:       ts,
		Compressed: compressed,
		Payload:    payload,
		Notice:     z.EccReport().Notice(),
	}
}

func (s *Store) readRing(z *zone.Buffer, t RecordType) *Record {
	if z == nil {
		return nil
	}
	z.SaveOld()
	old := z.Old()
	if len(old) == 0 {
		return nil
	}
	return &Record{
		Type:    t,
		Payload: old,
		Notice:  z.EccReport().Notice(),
	}
}

// readTraces surfaces every shard as one merged record ordered by the
// embedded timestamps, with the shards' redundancy counters accumulated
// into a single notice.
func (s *Store) readTraces() (*Record, error) {
	if len(s.traces) == 0 {
		return nil, nil
	}
	var merged []byte
	var rep zone.Report
	for _, z := range s.traces {
		z.SaveOld()
		rep = rep.Add(z.EccReport())
		old := z.Old()
		if len(old) == 0 {
			continue
		}
		var err error
		merged, err = zone.MergeLogs(merged, old, TraceRecordStride)
		if err != nil {
			return nil, err
		}
	}
	if len(merged) == 0 {
		return nil, nil
	}
	return &Record{
		Type:    TypeTrace,
		Payload: merged,
		Notice:  rep.Notice(),
	}, nil
}

// Write stores a record in its type's zone. Dump records rotate through
// the dump slots, silently overwriting the oldest; console and trace
// records append to their rings. Message payloads must come through
// WriteFrom so their source faults stay attributable.
func (s *Store) Write(rec Record) error {
	switch rec.Type {
	case TypeDump:
		return s.writeDump(rec)
	case TypeConsole:
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}
		if s.console == nil {
			return fmt.Errorf("%w: console", ErrNoZone)
		}
		s.console.Append(rec.Payload)
	case TypeTrace:
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return ErrClosed
		}
		if len(s.traces) == 0 {
			return fmt.Errorf("%w: trace", ErrNoZone)
		}
		// Producer indices wrap onto the shards; failure paths must
		// never panic here, so negative indices wrap too.
		shard := rec.Instance % len(s.traces)
		if shard < 0 {
			shard += len(s.traces)
		}
		s.traces[shard].Append(rec.Payload)
	case TypeMsg:
		return ErrExternalOnly
	default:
		return ErrBadType
	}
	s.metrics.writes.WithLabelValues(rec.Type.String()).Inc()
	return nil
}

func (s *Store) writeDump(rec Record) error {
	if rec.Part > 1 {
		return ErrMultiPart
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if len(s.dumps) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: dump", ErrNoZone)
	}
	z := s.dumps[s.dumpCursor]
	s.dumpCursor = (s.dumpCursor + 1) % len(s.dumps)
	s.mu.Unlock()

	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	z.ReleaseOld()
	z.Clear()
	z.Append(formatDumpHeader(ts, rec.Compressed))
	z.Append(rec.Payload)
	s.metrics.writes.WithLabelValues(TypeDump.String()).Inc()
	return nil
}

// WriteFrom streams count bytes from an external source into the message
// ring. A fault mid-copy is reported wrapped; the ring's counters have
// already advanced by then and its parity matches whatever landed.
func (s *Store) WriteFrom(r io.Reader, count int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.msg == nil {
		return fmt.Errorf("%w: msg", ErrNoZone)
	}
	if _, err := s.msg.AppendFrom(r, count); err != nil {
		return err
	}
	s.metrics.writes.WithLabelValues(TypeMsg.String()).Inc()
	return nil
}

// Erase drops a record's zone content: the addressed dump slot, the whole
// console or message ring, or every trace shard (trace records surface as
// one merged record, so they erase as one).
func (s *Store) Erase(t RecordType, instance int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	clearZone := func(z *zone.Buffer) {
		z.ReleaseOld()
		z.Clear()
	}
	switch t {
	case TypeDump:
		if instance < 0 || instance >= len(s.dumps) {
			return fmt.Errorf("%w: dump slot %d", ErrNoZone, instance)
		}
		clearZone(s.dumps[instance])
	case TypeConsole:
		if s.console == nil {
			return fmt.Errorf("%w: console", ErrNoZone)
		}
		clearZone(s.console)
	case TypeMsg:
		if s.msg == nil {
			return fmt.Errorf("%w: msg", ErrNoZone)
		}
		clearZone(s.msg)
	case TypeTrace:
		if len(s.traces) == 0 {
			return fmt.Errorf("%w: trace", ErrNoZone)
		}
		// Trace records surface as one merged record with instance 0,
		// so that is the only erasable address.
		if instance != 0 {
			return fmt.Errorf("%w: trace record %d", ErrNoZone, instance)
		}
		for _, z := range s.traces {
			clearZone(z)
		}
	default:
		return ErrBadType
	}
	return nil
}

// Report returns the occupancy and redundancy state of every zone and
// refreshes the redundancy gauges.
func (s *Store) Report() []ZoneReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ZoneReport
	add := func(z *zone.Buffer, t RecordType, instance int) {
		rep := z.EccReport()
		out = append(out, ZoneReport{
			Name:     z.Name(),
			Type:     t,
			TypeName: t.String(),
			Instance: instance,
			Size:     z.Size(),
			Capacity: z.Capacity(),
			Ecc:      rep,
			Notice:   rep.Notice(),
		})
	}
	for i, z := range s.dumps {
		add(z, TypeDump, i)
	}
	if s.console != nil {
		add(s.console, TypeConsole, 0)
	}
	for i, z := range s.traces {
		add(z, TypeTrace, i)
	}
	if s.msg != nil {
		add(s.msg, TypeMsg, 0)
	}

	corrected, bad := 0, 0
	for _, r := range out {
		corrected += r.Ecc.Corrected
		bad += r.Ecc.BadBlocks
	}
	s.metrics.corrected.Set(float64(corrected))
	s.metrics.badBlocks.Set(float64(bad))
	return out
}

// DumpSlots reports how many dump slots the carve produced.
func (s *Store) DumpSlots() int { return len(s.dumps) }

// Close flushes the arena and refuses further operations. The arena
// itself stays open for its owner.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.session = ""
	if err := s.arena.Sync(); err != nil {
		return fmt.Errorf("store: sync region: %w", err)
	}
	return nil
}
