// Package archive persists records extracted from a crash-log region so
// they outlive the region's erasure. Records are keyed by type, instance
// and timestamp and iterate back out in that order.
package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/muninndb/muninn/pkg/store"
)

// Entry is the stored form of one extracted record.
type Entry struct {
	Type       string    `json:"type"`
	Instance   int       `json:"instance"`
	Time       time.Time `json:"time,omitempty"`
	Compressed bool      `json:"compressed,omitempty"`
	Payload    []byte    `json:"payload"`
	Notice     string    `json:"notice,omitempty"`
}

// Archive is a pebble-backed sink for extracted records.
type Archive struct {
	db *pebble.DB
}

// Open opens (creating if needed) the archive database at path.
func Open(path string) (*Archive, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	return &Archive{db: db}, nil
}

func key(rec *store.Record) []byte {
	return []byte(fmt.Sprintf("%s/%04d/%020d", rec.Type, rec.Instance, rec.Time.UnixNano()))
}

// Put stores one record. Putting the same (type, instance, time) key again
// overwrites, which keeps repeated extractions idempotent.
func (a *Archive) Put(rec *store.Record) error {
	e := Entry{
		Type:       rec.Type.String(),
		Instance:   rec.Instance,
		Time:       rec.Time,
		Compressed: rec.Compressed,
		Payload:    rec.Payload,
		Notice:     rec.Notice,
	}
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("archive: encode record: %w", err)
	}
	if err := a.db.Set(key(rec), val, pebble.Sync); err != nil {
		return fmt.Errorf("archive: store record: %w", err)
	}
	return nil
}

// Each visits every archived entry in key order. The callback returning an
// error stops the walk and surfaces that error.
func (a *Archive) Each(fn func(Entry) error) error {
	iter, err := a.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("archive: iterate: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return fmt.Errorf("archive: decode %q: %w", iter.Key(), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (a *Archive) Close() error {
	return a.db.Close()
}
