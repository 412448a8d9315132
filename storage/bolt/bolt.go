// Package bolt provides a bbolt-backed implementation of the
// timecredit.DurableStore interface: the on-device embedded store for
// production use.
//
// Synchronous writes commit (and fsync) before returning. Asynchronous
// writes merge into a pending buffer flushed by a background worker, so
// routine checkpoints never block the caller on disk I/O. Reads observe
// the pending buffer first, so the engine always reads its own writes.
package bolt

import (
	"context"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/offscreenlabs/timecredit/pkg/timecredit"
)

var bucketName = []byte("timecredit")

const flushInterval = 250 * time.Millisecond

// Store implements timecredit.DurableStore using bbolt.
type Store struct {
	db *bolt.DB

	mu         sync.Mutex
	pending    map[string]string
	pendingDel map[string]struct{}

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Open opens (creating if necessary) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	s := &Store{
		db:         db,
		pending:    make(map[string]string),
		pendingDel: make(map[string]struct{}),
		flushCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s, nil
}

// Read implements timecredit.DurableStore.
func (s *Store) Read(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	if v, ok := s.pending[key]; ok {
		s.mu.Unlock()
		return v, nil
	}
	if _, ok := s.pendingDel[key]; ok {
		s.mu.Unlock()
		return "", timecredit.ErrKeyNotFound
	}
	s.mu.Unlock()

	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketName).Get([]byte(key)); raw != nil {
			value = string(raw)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read %q: %w", key, err)
	}
	if !found {
		return "", timecredit.ErrKeyNotFound
	}
	return value, nil
}

// WriteAtomic implements timecredit.DurableStore.
func (s *Store) WriteAtomic(ctx context.Context, pairs []timecredit.Pair, mode timecredit.WriteMode) error {
	if mode == timecredit.WriteAsync {
		s.mu.Lock()
		for _, p := range pairs {
			s.pending[p.Key] = p.Value
			delete(s.pendingDel, p.Key)
		}
		s.mu.Unlock()
		s.signalFlush()
		return nil
	}

	// Sync: the pending buffer rides along so the on-disk image never
	// shows this write without older buffered ones.
	s.mu.Lock()
	merged, deleted := s.takePendingLocked()
	for _, p := range pairs {
		merged[p.Key] = p.Value
		delete(deleted, p.Key)
	}
	s.mu.Unlock()

	if err := s.commit(merged, deleted); err != nil {
		// Put the batch back so a later flush can retry it.
		s.restorePending(merged, deleted)
		return err
	}
	return nil
}

// Delete implements timecredit.DurableStore.
func (s *Store) Delete(ctx context.Context, keys []string, mode timecredit.WriteMode) error {
	if mode == timecredit.WriteAsync {
		s.mu.Lock()
		for _, k := range keys {
			delete(s.pending, k)
			s.pendingDel[k] = struct{}{}
		}
		s.mu.Unlock()
		s.signalFlush()
		return nil
	}

	s.mu.Lock()
	merged, deleted := s.takePendingLocked()
	for _, k := range keys {
		delete(merged, k)
		deleted[k] = struct{}{}
	}
	s.mu.Unlock()

	if err := s.commit(merged, deleted); err != nil {
		s.restorePending(merged, deleted)
		return err
	}
	return nil
}

// Close flushes pending writes and closes the database. Idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		merged, deleted := s.takePendingLocked()
		s.mu.Unlock()
		flushErr := s.commit(merged, deleted)

		if err := s.db.Close(); err != nil {
			s.closeErr = err
			return
		}
		s.closeErr = flushErr
	})
	return s.closeErr
}

func (s *Store) takePendingLocked() (map[string]string, map[string]struct{}) {
	merged := s.pending
	deleted := s.pendingDel
	s.pending = make(map[string]string)
	s.pendingDel = make(map[string]struct{})
	return merged, deleted
}

func (s *Store) restorePending(merged map[string]string, deleted map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range merged {
		if _, ok := s.pending[k]; !ok {
			s.pending[k] = v
		}
	}
	for k := range deleted {
		if _, ok := s.pending[k]; !ok {
			s.pendingDel[k] = struct{}{}
		}
	}
}

func (s *Store) commit(pairs map[string]string, deleted map[string]struct{}) error {
	if len(pairs) == 0 && len(deleted) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for k, v := range pairs {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		for k := range deleted {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) signalFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

func (s *Store) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.flushCh:
		case <-ticker.C:
		}

		s.mu.Lock()
		merged, deleted := s.takePendingLocked()
		s.mu.Unlock()
		if err := s.commit(merged, deleted); err != nil {
			s.restorePending(merged, deleted)
		}
	}
}
