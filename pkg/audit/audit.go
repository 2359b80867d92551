// Package audit persists route decisions to disk so post-flight analysis
// can reconstruct why the default route moved. The log is bounded: old
// decisions are pruned as new ones arrive.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

var decisionsBucket = []byte("route_decisions")

// Log is a bbolt-backed, capacity-bounded decision trail.
type Log struct {
	db       *bolt.DB
	capacity int
	logger   *logx.Logger
}

// Open creates or opens the audit database. The parent directory is
// created if missing.
func Open(path string, capacity int, logger *logx.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(decisionsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit bucket: %w", err)
	}
	if capacity <= 0 {
		capacity = 200
	}
	return &Log{db: db, capacity: capacity, logger: logger}, nil
}

// Record appends one decision. Persistence failures are logged, never
// propagated: a full disk must not stop failover.
func (l *Log) Record(d pkg.RouteDecision) {
	data, err := json.Marshal(d)
	if err != nil {
		l.logger.Error("failed to marshal route decision", "error", err.Error())
		return
	}
	err = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(decisionsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, data); err != nil {
			return err
		}

		// Sequence numbers are never reused, so everything at or below
		// seq-capacity is beyond the retention bound.
		if seq > uint64(l.capacity) {
			cutoff := seq - uint64(l.capacity)
			c := b.Cursor()
			for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.First() {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		l.logger.Error("failed to persist route decision", "error", err.Error())
	}
}

// Recent returns up to n of the newest decisions, oldest first.
func (l *Log) Recent(n int) ([]pkg.RouteDecision, error) {
	var out []pkg.RouteDecision
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(decisionsBucket).Cursor()
		for k, v := c.Last(); k != nil && (n <= 0 || len(out) < n); k, v = c.Prev() {
			var d pkg.RouteDecision
			if err := json.Unmarshal(v, &d); err != nil {
				return fmt.Errorf("corrupt audit entry: %w", err)
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close flushes and closes the database.
func (l *Log) Close() error {
	return l.db.Close()
}
