package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninndb/muninn/pkg/arena"
)

func testConfig() Config {
	return Config{
		RecordSize:  4096,
		ConsoleSize: 4096,
		TraceSize:   4096,
		MsgSize:     4096,
		TraceShards: 2,
		ECCEnabled:  true,
	}
}

func openStore(t *testing.T, a arena.Arena, cfg Config) *Store {
	t.Helper()
	s, err := Open(cfg, a)
	require.NoError(t, err)
	return s
}

// drain opens a session, reads every record and closes the session.
func drain(t *testing.T, s *Store) []*Record {
	t.Helper()
	_, err := s.OpenSession()
	require.NoError(t, err)
	var recs []*Record
	for {
		rec, err := s.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	require.NoError(t, s.CloseSession())
	return recs
}

func traceRec(ts uint64) []byte {
	r := make([]byte, TraceRecordStride)
	binary.LittleEndian.PutUint64(r, ts)
	binary.LittleEndian.PutUint64(r[8:], ts*3)
	binary.LittleEndian.PutUint64(r[16:], ts*7)
	return r
}

func TestOpenCarvesRegion(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	// 64 KiB minus three fixed 4 KiB zones leaves 13 dump slots.
	assert.Equal(t, 13, s.DumpSlots())

	reps := s.Report()
	require.Len(t, reps, 17)
	assert.Equal(t, "dump0", reps[0].Name)
	assert.Equal(t, "console", reps[13].Name)
	assert.Equal(t, "trace0", reps[14].Name)
	assert.Equal(t, "trace1", reps[15].Name)
	assert.Equal(t, "msg", reps[16].Name)
	for _, r := range reps {
		assert.True(t, r.Ecc.Enabled, r.Name)
		assert.Zero(t, r.Size, r.Name)
	}
}

func TestOpenRoundsSizesDown(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	cfg := testConfig()
	cfg.RecordSize = 5000 // not a power of two
	cfg.ConsoleSize = 6000
	s := openStore(t, a, cfg)

	// record size 4096, console 4096: same carve as the default.
	assert.Equal(t, 13, s.DumpSlots())
}

func TestOpenRejectsOversizedFixedZones(t *testing.T) {
	a := arena.NewMemArena(8 << 10)
	cfg := testConfig()
	cfg.ConsoleSize = 16 << 10
	_, err := Open(cfg, a)
	assert.Error(t, err)
}

func TestReadPriorityOrder(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 0, Payload: traceRec(5)}))
	require.NoError(t, s.WriteFrom(strings.NewReader("user message"), 12))
	require.NoError(t, s.Write(Record{Type: TypeConsole, Payload: []byte("console tail")}))
	require.NoError(t, s.Write(Record{Type: TypeDump, Payload: []byte("panic: boom"), Time: time.Unix(10, 0)}))

	recs := drain(t, s)
	require.Len(t, recs, 4)

	assert.Equal(t, TypeDump, recs[0].Type)
	assert.Equal(t, []byte("panic: boom"), recs[0].Payload)
	assert.True(t, recs[0].Time.Equal(time.Unix(10, 0)))
	assert.Contains(t, recs[0].Notice, "ECC: No errors detected")

	assert.Equal(t, TypeConsole, recs[1].Type)
	assert.Equal(t, []byte("console tail"), recs[1].Payload)

	assert.Equal(t, TypeMsg, recs[2].Type)
	assert.Equal(t, []byte("user message"), recs[2].Payload)

	assert.Equal(t, TypeTrace, recs[3].Type)
	assert.Equal(t, traceRec(5), recs[3].Payload)
}

func TestDumpRotationOverwritesOldest(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())
	n := s.DumpSlots()

	for i := 0; i <= n; i++ {
		err := s.Write(Record{
			Type:    TypeDump,
			Payload: []byte(fmt.Sprintf("dump %d", i)),
			Time:    time.Unix(int64(1000+i), 0),
		})
		require.NoError(t, err)
	}

	recs := drain(t, s)
	require.Len(t, recs, n)

	var seen []string
	for _, rec := range recs {
		require.Equal(t, TypeDump, rec.Type)
		seen = append(seen, string(rec.Payload))
	}
	// Slot 0 was reused for the extra write; dump 0 is gone.
	assert.Contains(t, seen, fmt.Sprintf("dump %d", n))
	assert.NotContains(t, seen, "dump 0")
}

func TestDumpRejectsLaterParts(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	require.NoError(t, s.Write(Record{Type: TypeDump, Part: 1, Payload: []byte("head")}))
	err := s.Write(Record{Type: TypeDump, Part: 2, Payload: []byte("tail")})
	assert.ErrorIs(t, err, ErrMultiPart)
}

func TestMsgRejectsDirectWrite(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	err := s.Write(Record{Type: TypeMsg, Payload: []byte("nope")})
	assert.ErrorIs(t, err, ErrExternalOnly)
}

func TestWriteFromFaultSurfaces(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	err := s.WriteFrom(strings.NewReader("short"), 64)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestGarbageDumpZoneClearedOnRead(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	require.NoError(t, s.Write(Record{Type: TypeDump, Payload: []byte("good"), Time: time.Unix(5, 0)}))
	// Bytes with no dump header, as left by a writer that died mid-way.
	s.dumps[1].Append([]byte("not a header at all"))

	recs := drain(t, s)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("good"), recs[0].Payload)

	// The garbage zone was reset on the spot.
	assert.Zero(t, s.dumps[1].Size())
}

func TestTraceShardsMergeOnRead(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	// Interleaved timestamps across the two shards.
	require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 0, Payload: traceRec(1)}))
	require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 1, Payload: traceRec(2)}))
	require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 0, Payload: traceRec(4)}))
	require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 1, Payload: traceRec(3)}))

	recs := drain(t, s)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, TypeTrace, rec.Type)
	require.Len(t, rec.Payload, 4*TraceRecordStride)

	var got []uint64
	for off := 0; off < len(rec.Payload); off += TraceRecordStride {
		got = append(got, binary.LittleEndian.Uint64(rec.Payload[off:]))
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, got)
	assert.Contains(t, rec.Notice, "ECC")
}

func TestTraceWriteWrapsNegativeInstance(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	// Producer indices come from the caller's failure path; odd values
	// must land on a shard rather than panic.
	require.NotPanics(t, func() {
		require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: -1, Payload: traceRec(1)}))
		require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: -7, Payload: traceRec(2)}))
		require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 5, Payload: traceRec(3)}))
	})

	recs := drain(t, s)
	require.Len(t, recs, 1)
	assert.Len(t, recs[0].Payload, 3*TraceRecordStride)
}

func TestConcurrentWritersLeaveZonesIsolated(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	const perWriter = 64
	var wg sync.WaitGroup
	wg.Add(3)

	// One producer per zone: console plus both trace shards.
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			assert.NoError(t, s.Write(Record{Type: TypeConsole, Payload: []byte{'c'}}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			assert.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 0, Payload: traceRec(uint64(2 * i))}))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			assert.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 1, Payload: traceRec(uint64(2*i + 1))}))
		}
	}()
	wg.Wait()

	recs := drain(t, s)
	require.Len(t, recs, 2)

	require.Equal(t, TypeConsole, recs[0].Type)
	assert.Equal(t, bytes.Repeat([]byte{'c'}, perWriter), recs[0].Payload)

	require.Equal(t, TypeTrace, recs[1].Type)
	require.Len(t, recs[1].Payload, 2*perWriter*TraceRecordStride)
	var got []uint64
	for off := 0; off < len(recs[1].Payload); off += TraceRecordStride {
		got = append(got, binary.LittleEndian.Uint64(recs[1].Payload[off:]))
	}
	for i, ts := range got {
		assert.Equal(t, uint64(i), ts)
	}
}

func TestEraseByTypeAndInstance(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	require.NoError(t, s.Write(Record{Type: TypeDump, Payload: []byte("d0"), Time: time.Unix(1, 0)}))
	require.NoError(t, s.Write(Record{Type: TypeDump, Payload: []byte("d1"), Time: time.Unix(2, 0)}))
	require.NoError(t, s.Write(Record{Type: TypeConsole, Payload: []byte("c")}))

	require.NoError(t, s.Erase(TypeDump, 0))
	require.NoError(t, s.Erase(TypeConsole, 0))

	recs := drain(t, s)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("d1"), recs[0].Payload)

	assert.ErrorIs(t, s.Erase(TypeDump, 99), ErrNoZone)
}

func TestEraseTraceClearsAllShardsAsOne(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 0, Payload: traceRec(1)}))
	require.NoError(t, s.Write(Record{Type: TypeTrace, Instance: 1, Payload: traceRec(2)}))

	// The merged trace record carries instance 0; other addresses do
	// not exist.
	assert.ErrorIs(t, s.Erase(TypeTrace, 1), ErrNoZone)
	require.NoError(t, s.Erase(TypeTrace, 0))

	recs := drain(t, s)
	assert.Empty(t, recs)
}

func TestSessionDiscipline(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())

	_, err := s.Read()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, s.CloseSession(), ErrNoSession)

	id, err := s.OpenSession()
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.OpenSession()
	assert.ErrorIs(t, err, ErrSessionActive)
	require.NoError(t, s.CloseSession())

	// A fresh session rewinds the scan.
	require.NoError(t, s.Write(Record{Type: TypeConsole, Payload: []byte("again")}))
	first := drain(t, s)
	second := drain(t, s)
	assert.Equal(t, len(first), len(second))
}

func TestReattachSurvivesRestart(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	cfg := testConfig()

	s1 := openStore(t, a, cfg)
	require.NoError(t, s1.Write(Record{Type: TypeDump, Payload: []byte("old crash"), Time: time.Unix(77, 0)}))
	require.NoError(t, s1.Write(Record{Type: TypeConsole, Payload: []byte("last lines")}))
	require.NoError(t, s1.Close())

	// Same bytes, next process generation.
	s2 := openStore(t, a, cfg)
	recs := drain(t, s2)
	require.Len(t, recs, 2)
	assert.Equal(t, []byte("old crash"), recs[0].Payload)
	assert.True(t, recs[0].Time.Equal(time.Unix(77, 0)))
	assert.Equal(t, []byte("last lines"), recs[1].Payload)
}

func TestClosedStoreRefusesEverything(t *testing.T) {
	a := arena.NewMemArena(64 << 10)
	s := openStore(t, a, testConfig())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Write(Record{Type: TypeConsole, Payload: []byte("x")}), ErrClosed)
	assert.ErrorIs(t, s.WriteFrom(strings.NewReader("x"), 1), ErrClosed)
	assert.ErrorIs(t, s.Erase(TypeConsole, 0), ErrClosed)
	_, err := s.OpenSession()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Close(), ErrClosed)
}

func TestParseRecordType(t *testing.T) {
	for _, want := range []RecordType{TypeDump, TypeConsole, TypeTrace, TypeMsg} {
		got, err := ParseRecordType(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseRecordType("bogus")
	assert.ErrorIs(t, err, ErrBadType)
}
