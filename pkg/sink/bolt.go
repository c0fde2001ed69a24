package sink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/telemetry-collector/pkg/model"
)

var (
	bucketCurrentValues = []byte("current_values")
	bucketOccurrences   = []byte("alarm_occurrences")
	bucketDurableBuffer = []byte("durable_buffer")
	bucketTimeSeries    = []byte("time_series")
)

// BoltStore is the local durable-storage implementation of
// CurrentValueStore, OccurrenceStore, and DurableBuffer. It backs the
// collector when running without (or alongside, as a local fallback) the
// Redis cache/pub-sub sink.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database at path with
// one bucket per entity family.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("sink: opening bolt database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCurrentValues, bucketOccurrences, bucketDurableBuffer, bucketTimeSeries} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func currentValueKey(tenantID, pointID string) []byte {
	return []byte(tenantID + "|" + pointID)
}

func (s *BoltStore) SaveCurrentValue(tv model.TimestampedValue) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCurrentValues)
		data, err := json.Marshal(tv)
		if err != nil {
			return err
		}
		return b.Put(currentValueKey(tv.TenantID, tv.PointID), data)
	})
}

func (s *BoltStore) GetCurrentValue(tenantID, pointID string) (model.CurrentValue, bool, error) {
	var tv model.TimestampedValue
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCurrentValues)
		data := b.Get(currentValueKey(tenantID, pointID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &tv)
	})
	if err != nil || !found {
		return model.CurrentValue{}, false, err
	}
	return model.CurrentValue{
		Value:     tv.Value,
		Quality:   tv.Quality,
		ValueTS:   tv.SourceTimestamp,
		QualityTS: tv.SourceTimestamp,
	}, true, nil
}

// timeSeriesKey orders entries for a given tenant+point lexicographically
// by source timestamp, so a bucket Cursor can range-scan history without
// an extra index.
func timeSeriesKey(tenantID, pointID string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s|%s|%020d", tenantID, pointID, ts.UnixNano()))
}

// AppendTimeSeries persists a single historized reading. It implements
// TimeSeriesStore for deployments running without (or alongside, as a
// local fallback to) a dedicated time-series sink.
func (s *BoltStore) AppendTimeSeries(tv model.TimestampedValue) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTimeSeries)
		data, err := json.Marshal(tv)
		if err != nil {
			return err
		}
		return b.Put(timeSeriesKey(tv.TenantID, tv.PointID, tv.SourceTimestamp), data)
	})
}

// QueryTimeSeries returns the readings for tenantID/pointID with a source
// timestamp in [from, to], in ascending timestamp order.
func (s *BoltStore) QueryTimeSeries(tenantID, pointID string, from, to time.Time) ([]model.TimestampedValue, error) {
	var out []model.TimestampedValue
	lo := timeSeriesKey(tenantID, pointID, from)
	hi := timeSeriesKey(tenantID, pointID, to)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTimeSeries).Cursor()
		for k, v := c.Seek(lo); k != nil && string(k) <= string(hi); k, v = c.Next() {
			var tv model.TimestampedValue
			if err := json.Unmarshal(v, &tv); err != nil {
				return err
			}
			out = append(out, tv)
		}
		return nil
	})
	return out, err
}

func occurrenceKey(id int64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}

func (s *BoltStore) SaveOccurrence(occ model.AlarmOccurrence) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOccurrences)
		data, err := json.Marshal(occ)
		if err != nil {
			return err
		}
		return b.Put(occurrenceKey(occ.ID), data)
	})
}

func (s *BoltStore) LoadActiveOccurrences(tenantID string) ([]model.AlarmOccurrence, error) {
	var out []model.AlarmOccurrence
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOccurrences)
		return b.ForEach(func(k, v []byte) error {
			var occ model.AlarmOccurrence
			if err := json.Unmarshal(v, &occ); err != nil {
				return err
			}
			if occ.TenantID == tenantID && !model.IsTerminal(occ.State) {
				out = append(out, occ)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) HighestOccurrenceID() (int64, error) {
	var highest int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOccurrences)
		c := b.Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		v, err := strconv.ParseInt(string(k), 10, 64)
		if err != nil {
			return err
		}
		highest = v
		return nil
	})
	return highest, err
}

// Enqueue appends a durable-buffer entry under an auto-incrementing key,
// preserving write order for Flush's replay.
func (s *BoltStore) Enqueue(kind string, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDurableBuffer)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry := durableEntry{Kind: kind, Payload: payload}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(occurrenceKey(int64(seq)), data)
	})
}

type durableEntry struct {
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
}

// Flush replays every buffered entry in insertion order via replay,
// removing each entry once replay succeeds for it. It stops at the first
// failure so the buffer is never partially drained out of order.
func (s *BoltStore) Flush(replay func(kind string, payload []byte) error) (int, error) {
	drained := 0
	var replayErr error
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDurableBuffer)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry durableEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if err := replay(entry.Kind, entry.Payload); err != nil {
				// Commit the deletions of the entries replayed so far.
				replayErr = err
				return nil
			}
			if err := b.Delete(k); err != nil {
				return err
			}
			drained++
		}
		return nil
	})
	if err == nil {
		err = replayErr
	}
	return drained, err
}

func (s *BoltStore) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketDurableBuffer).Stats().KeyN
		return nil
	})
	return n, err
}
