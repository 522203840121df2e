// Package settings implements the wear-leveled flash key/value
// store: a fixed-size page divided into N rotating slots, an in-RAM
// working copy mutated by Get/Add/Set/Delete/Wipe, and a debounced
// background writer that reconciles RAM to flash. The physical medium
// sits behind the FlashDevice capability interface.
package settings

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default slot layout and flush debounce timing.
const (
	defaultSlotSize = 2048
	defaultDebounce = 10 * time.Second
)

// Option configures a Store constructed by New.
type Option func(*Store)

// WithSlotSize overrides the default 2048-byte slot size.
func WithSlotSize(n int) Option {
	return func(s *Store) { s.slotSize = n }
}

// WithDebounce overrides the default 10-second flush debounce period.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// WithLogger sets the logger used for flush diagnostics. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is the in-RAM working copy of the settings record stream, plus
// the state needed to reconcile it back to a FlashDevice.
type Store struct {
	dev      FlashDevice
	slotSize int
	numSlots int
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	buf    []byte // recordBufCapacity(slotSize) bytes, the RAM record stream
	bufPos int    // write cursor; bufPos == 0 means empty

	curSlot     int    // index of the slot flash currently agrees with RAM on, -1 if none ever flushed successfully
	lastFlushed []byte // cached copy of what curSlot currently holds, for the flush diff
	everFlushed bool
	notifyCh    chan struct{}
}

// New constructs a Store, scanning dev for the newest valid slot and
// loading it into RAM.
func New(ctx context.Context, dev FlashDevice, opts ...Option) (*Store, error) {
	s := &Store{
		dev:      dev,
		slotSize: defaultSlotSize,
		debounce: defaultDebounce,
		logger:   slog.Default(),
		notifyCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.slotSize <= trailerSize || s.slotSize%ChunkSize != 0 {
		return nil, fmt.Errorf("settings: slot size %d must exceed %d bytes and be quadword-aligned", s.slotSize, trailerSize)
	}
	pageSize := dev.PageSize()
	if pageSize <= 0 || pageSize%s.slotSize != 0 {
		return nil, fmt.Errorf("settings: page size %d not a multiple of slot size %d", pageSize, s.slotSize)
	}
	s.numSlots = pageSize / s.slotSize

	page, err := dev.ReadPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: read page: %w", err)
	}
	if len(page) != pageSize {
		return nil, fmt.Errorf("settings: device returned %d bytes, want %d", len(page), pageSize)
	}

	newest := -1
	for i := 0; i < s.numSlots; i++ {
		if s.trailerAt(page, i).valid() {
			newest = i // last match wins: spec says "remember the last slot"
		}
	}

	loadIdx := newest
	if loadIdx == -1 {
		loadIdx = 0
	}
	recordCap := recordBufCapacity(s.slotSize)
	start := loadIdx * s.slotSize
	s.buf = append([]byte(nil), page[start:start+recordCap]...)

	trailer := s.trailerAt(page, loadIdx)
	if trailer.blockLength == 0xFFFFFFFF || trailer.blockLength == 0 {
		s.bufPos = 0
	} else {
		s.bufPos = int(trailer.blockLength)
		if s.bufPos > recordCap {
			s.bufPos = recordCap
		}
	}

	s.curSlot = newest
	s.lastFlushed = append([]byte(nil), s.buf...)
	s.everFlushed = newest != -1

	return s, nil
}

func (s *Store) trailerAt(page []byte, idx int) slotTrailer {
	start := idx*s.slotSize + recordBufCapacity(s.slotSize)
	return decodeTrailer(page[start : start+trailerSize])
}

// Get returns a copy of the value stored under key at the given
// zero-based occurrence index. Callers receive the full value; a
// heap-allocated copy is cheap at this scale (at most a few dozen
// short records).
func (s *Store) Get(key uint16, index int) (value []byte, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.find(key, index)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Add appends a new record, returning ErrNoBufs if it would not fit in
// the remaining slot capacity.
func (s *Store) Add(key uint16, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(key, value)
}

func (s *Store) add(key uint16, value []byte) error {
	needed := recordHeaderSize + len(value)
	if s.bufPos+needed > len(s.buf) {
		return ErrNoBufs
	}
	rec := s.buf[s.bufPos : s.bufPos+needed]
	putUint16(rec[0:2], key)
	putUint16(rec[2:4], uint16(len(value)))
	copy(rec[4:], value)
	s.bufPos += needed
	s.markDirtyLocked()
	return nil
}

// Set removes every existing record under key, then adds value.
func (s *Store) Set(key uint16, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if _, ok := s.find(key, 0); !ok {
			break
		}
		s.deleteFirst(key)
	}
	return s.add(key, value)
}

// Delete removes the record matching key at the given zero-based
// occurrence index; -1 means the first occurrence. Returns ErrNotFound
// when no record with that key exists at that index.
func (s *Store) Delete(key uint16, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	occurrence := index
	if occurrence < 0 {
		occurrence = 0
	}
	if !s.deleteOccurrence(key, occurrence) {
		return ErrNotFound
	}
	return nil
}

// Wipe clears the entire record stream.
func (s *Store) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bufPos = 0
	s.markDirtyLocked()
}

// find returns the value of the occurrence-th record (0-based) matching
// key, scanning the live record stream. Parsing stops early at a
// terminator or erased-looking key.
func (s *Store) find(key uint16, occurrence int) ([]byte, bool) {
	seen := 0
	found := false
	var value []byte
	s.scan(func(offset int, recKey uint16, recValue []byte) bool {
		if recKey != key {
			return true
		}
		if seen == occurrence {
			value = recValue
			found = true
			return false
		}
		seen++
		return true
	})
	return value, found
}

// deleteFirst removes the first record under key via a tail shift.
func (s *Store) deleteFirst(key uint16) {
	s.deleteOccurrence(key, 0)
}

// deleteOccurrence removes the occurrence-th record (0-based) under key
// via a tail shift. Reports whether a record was removed.
func (s *Store) deleteOccurrence(key uint16, occurrence int) bool {
	var offset, total int
	seen := 0
	hit := false
	s.scan(func(off int, recKey uint16, recValue []byte) bool {
		if recKey != key {
			return true
		}
		if seen == occurrence {
			offset = off
			total = recordHeaderSize + len(recValue)
			hit = true
			return false
		}
		seen++
		return true
	})
	if !hit {
		return false
	}
	copy(s.buf[offset:], s.buf[offset+total:s.bufPos])
	s.bufPos -= total
	s.markDirtyLocked()
	return true
}

// scan walks the live record stream from offset 0, invoking visit for
// each record until it returns false, the cursor is exhausted, or a
// terminator/erased key is encountered.
func (s *Store) scan(visit func(offset int, key uint16, value []byte) bool) {
	pos := 0
	for pos+recordHeaderSize <= s.bufPos {
		key := uint16(s.buf[pos]) | uint16(s.buf[pos+1])<<8
		if key == keyTerminator || key == keyErased {
			return
		}
		length := int(uint16(s.buf[pos+2]) | uint16(s.buf[pos+3])<<8)
		valStart := pos + recordHeaderSize
		valEnd := valStart + length
		if valEnd > s.bufPos {
			return
		}
		if !visit(pos, key, s.buf[valStart:valEnd]) {
			return
		}
		pos = valEnd
	}
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func (s *Store) markDirtyLocked() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// equalToFlash reports whether the current RAM buffer matches the
// cached copy of what curSlot holds on flash.
func (s *Store) equalToFlash() bool {
	return bytes.Equal(s.buf, s.lastFlushed)
}

// Flushed reports whether at least one flush has ever completed
// successfully, for status reporting (internal/metrics, meshappctl).
func (s *Store) Flushed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.everFlushed
}

// RecordInfo is the exported view of one stored record, for the admin
// API and meshappctl. Values themselves are only returned by Get: a
// listing that dumped every value would leak whatever the host network
// stack keeps in its reserved key space.
type RecordInfo struct {
	Key    uint16 `json:"key"`
	Length int    `json:"length"`
}

// Records lists every live record in stream order.
func (s *Store) Records() []RecordInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RecordInfo
	s.scan(func(_ int, key uint16, value []byte) bool {
		out = append(out, RecordInfo{Key: key, Length: len(value)})
		return true
	})
	return out
}

// BufPos reports the current RAM write cursor, for status reporting.
func (s *Store) BufPos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufPos
}
