package events

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var journalBucket = []byte("events")

const subscriberBuffer = 128

// Journal persists every emitted event with a monotonically increasing
// sequence number so external indexers can replay the full transition history
// and resume from a cursor after a disconnect.
type Journal struct {
	db *bolt.DB

	mu      sync.Mutex
	subs    map[uint64]chan *Event
	nextSub uint64
	dropped uint64
}

// OpenJournal opens (or creates) the journal database at the given path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("events: open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("events: init journal bucket: %w", err)
	}
	return &Journal{db: db, subs: make(map[uint64]chan *Event)}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit implements the Emitter interface. The event is assigned the next
// sequence number, persisted, and fanned out to live subscribers. Persistence
// failures are logged rather than returned because the Emitter contract is
// fire-and-forget; the ledger state transition has already committed.
func (j *Journal) Emit(evt *Event) {
	if j == nil || evt == nil {
		return
	}
	stored := *evt
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(journalBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		stored.Sequence = seq
		payload, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), payload)
	})
	if err != nil {
		slog.Error("event journal append failed", slog.String("type", evt.Type), slog.Any("error", err))
		return
	}
	j.fanOut(&stored)
}

func (j *Journal) fanOut(evt *Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ch := range j.subs {
		select {
		case ch <- evt:
		default:
			j.dropped++
		}
	}
}

// Replay returns every persisted event with a sequence strictly greater than
// the supplied cursor, in order.
func (j *Journal) Replay(after uint64) ([]*Event, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("events: journal not open")
	}
	var out []*Event
	err := j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(journalBucket).Cursor()
		for k, v := cursor.Seek(sequenceKey(after + 1)); k != nil; k, v = cursor.Next() {
			evt := &Event{}
			if err := json.Unmarshal(v, evt); err != nil {
				return fmt.Errorf("decode event %x: %w", k, err)
			}
			out = append(out, evt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Subscribe registers a live subscriber and returns the backlog of events past
// the cursor alongside the live channel. The cancel function must be called to
// release the subscription; the channel is closed when the supplied context is
// done. An event emitted while the backlog is being read can appear both in
// the backlog and on the live channel; consumers de-duplicate by sequence.
func (j *Journal) Subscribe(ctx context.Context, after uint64) (<-chan *Event, func(), []*Event, error) {
	if j == nil || j.db == nil {
		return nil, nil, nil, fmt.Errorf("events: journal not open")
	}
	ch := make(chan *Event, subscriberBuffer)

	j.mu.Lock()
	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch
	j.mu.Unlock()

	backlog, err := j.Replay(after)
	if err != nil {
		j.unsubscribe(id)
		return nil, nil, nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			j.unsubscribe(id)
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, backlog, nil
}

func (j *Journal) unsubscribe(id uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.subs, id)
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
