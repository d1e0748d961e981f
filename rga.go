package jsoncrdt

import (
	"sort"
)

// one contiguous run of elements inserted by a single operation.
// deleted chunks keep their id range as tombstones but drop their payload
type Chunk[T any] struct {
	Id      Ts
	Span    uint64
	Deleted bool
	Data    T
}

func (self *Chunk[T]) Contains(id Ts) bool {
	return self.Id.Sid == id.Sid &&
		self.Id.Time <= id.Time &&
		id.Time < self.Id.Time+self.Span
}

// splits chunk data at a logical offset, returning the left and right halves
type SplitFunction[T any] func(data T, at uint64) (T, T)

// number of chunks above which the by-id index is built
const rgaIdxThreshold = 16

type rgaIdxEntry struct {
	start uint64
	pos   int
}

// replicated growable array. chunks are kept in document order.
// lookups by id go through a lazily built per session index once the
// chunk list grows past rgaIdxThreshold
type rga[T any] struct {
	chunks []*Chunk[T]
	split  SplitFunction[T]
	// session -> entries sorted by start time. nil until built
	idx map[uint64][]rgaIdxEntry
}

func newRga[T any](split SplitFunction[T]) *rga[T] {
	return &rga[T]{
		chunks: []*Chunk[T]{},
		split:  split,
		idx:    nil,
	}
}

func (self *rga[T]) Len() int {
	return len(self.chunks)
}

// number of live elements
func (self *rga[T]) Size() uint64 {
	size := uint64(0)
	for _, chunk := range self.chunks {
		if !chunk.Deleted {
			size += chunk.Span
		}
	}
	return size
}

func (self *rga[T]) buildIdx() {
	self.idx = map[uint64][]rgaIdxEntry{}
	for pos, chunk := range self.chunks {
		self.idx[chunk.Id.Sid] = append(self.idx[chunk.Id.Sid], rgaIdxEntry{
			start: chunk.Id.Time,
			pos:   pos,
		})
	}
	for sid, entries := range self.idx {
		sort.Slice(entries, func(i int, j int) bool {
			return entries[i].start < entries[j].start
		})
		self.idx[sid] = entries
	}
}

// chunk list position of the chunk containing `id`, or -1
func (self *rga[T]) findPos(id Ts) int {
	if self.idx == nil && rgaIdxThreshold < len(self.chunks) {
		self.buildIdx()
	}
	if self.idx != nil {
		entries := self.idx[id.Sid]
		i := sort.Search(len(entries), func(i int) bool {
			return id.Time < entries[i].start
		})
		if i == 0 {
			return -1
		}
		pos := entries[i-1].pos
		if self.chunks[pos].Contains(id) {
			return pos
		}
		return -1
	}
	for pos, chunk := range self.chunks {
		if chunk.Contains(id) {
			return pos
		}
	}
	return -1
}

func (self *rga[T]) FindById(id Ts) *Chunk[T] {
	pos := self.findPos(id)
	if pos < 0 {
		return nil
	}
	return self.chunks[pos]
}

func (self *rga[T]) insertChunkAt(pos int, chunk *Chunk[T]) {
	self.chunks = append(self.chunks, nil)
	copy(self.chunks[pos+1:], self.chunks[pos:])
	self.chunks[pos] = chunk
	if self.idx != nil {
		for sid, entries := range self.idx {
			for i := range entries {
				if pos <= entries[i].pos {
					entries[i].pos += 1
				}
			}
			self.idx[sid] = entries
		}
		self.idx[chunk.Id.Sid] = insertIdxEntry(self.idx[chunk.Id.Sid], rgaIdxEntry{
			start: chunk.Id.Time,
			pos:   pos,
		})
	}
}

func insertIdxEntry(entries []rgaIdxEntry, entry rgaIdxEntry) []rgaIdxEntry {
	i := sort.Search(len(entries), func(i int) bool {
		return entry.start < entries[i].start
	})
	entries = append(entries, rgaIdxEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	return entries
}

// splits the chunk at `pos` so that `offset` elements stay on the left.
// both halves keep their relative order and the tombstone flag.
// a tombstone carries no payload, so only live chunks split their data
func (self *rga[T]) splitChunk(pos int, offset uint64) {
	chunk := self.chunks[pos]
	var left, right T
	if !chunk.Deleted {
		left, right = self.split(chunk.Data, offset)
	}
	chunk.Data = left
	rightChunk := &Chunk[T]{
		Id:      chunk.Id.Step(offset),
		Span:    chunk.Span - offset,
		Deleted: chunk.Deleted,
		Data:    right,
	}
	chunk.Span = offset
	self.insertChunkAt(pos+1, rightChunk)
}

// inserts a new chunk after the element `after`.
// the origin anchor means position zero. concurrent inserts at the same
// anchor are ordered by skipping over chunks with a higher id
func (self *rga[T]) Insert(after Ts, id Ts, span uint64, data T) {
	if self.FindById(id) != nil {
		// duplicate delivery
		return
	}
	pos := 0
	if !after.IsOrigin() {
		afterPos := self.findPos(after)
		if afterPos < 0 {
			pos = len(self.chunks)
		} else {
			chunk := self.chunks[afterPos]
			offset := after.Time - chunk.Id.Time
			if offset+1 < chunk.Span {
				self.splitChunk(afterPos, offset+1)
			}
			pos = afterPos + 1
		}
	}
	for pos < len(self.chunks) {
		if CompareTs(self.chunks[pos].Id, id) <= 0 {
			break
		}
		pos += 1
	}
	self.insertChunkAt(pos, &Chunk[T]{
		Id:      id,
		Span:    span,
		Deleted: false,
		Data:    data,
	})
}

// appends a chunk at the end without any ordering checks.
// used when rebuilding a node from its stored form
func (self *rga[T]) PushChunk(chunk *Chunk[T]) {
	self.chunks = append(self.chunks, chunk)
	self.idx = nil
}

// tombstones the id range. chunks partially covered are split first.
// covered chunks may be scattered through the list when concurrent
// inserts landed inside the original run, so every chunk is checked
func (self *rga[T]) Delete(span Tss) {
	if span.Span == 0 {
		return
	}
	delStart := span.Time
	delEnd := span.Time + span.Span
	pos := 0
	for pos < len(self.chunks) {
		chunk := self.chunks[pos]
		chunkStart := chunk.Id.Time
		chunkEnd := chunk.Id.Time + chunk.Span
		if chunk.Id.Sid != span.Sid || delEnd <= chunkStart || chunkEnd <= delStart {
			pos += 1
			continue
		}
		overlapStart := max(delStart, chunkStart)
		overlapEnd := min(delEnd, chunkEnd)
		if chunkStart < overlapStart {
			self.splitChunk(pos, overlapStart-chunkStart)
			pos += 1
		}
		chunk = self.chunks[pos]
		if overlapEnd < chunk.Id.Time+chunk.Span {
			self.splitChunk(pos, overlapEnd-chunk.Id.Time)
		}
		chunk = self.chunks[pos]
		chunk.Deleted = true
		var zero T
		chunk.Data = zero
		pos += 1
	}
}

// calls the callback for each live chunk in document order
func (self *rga[T]) ScanLive(callback func(chunk *Chunk[T])) {
	for _, chunk := range self.chunks {
		if !chunk.Deleted {
			callback(chunk)
		}
	}
}

// calls the callback for every chunk in document order
func (self *rga[T]) Scan(callback func(chunk *Chunk[T])) {
	for _, chunk := range self.chunks {
		callback(chunk)
	}
}
