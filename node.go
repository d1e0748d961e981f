package jsoncrdt

import (
	"strings"
)

type Node interface {
	NodeId() Ts
}

// immutable constant. holds either an opaque value or a timestamp reference
type ConNode struct {
	Id  Ts
	Val ConValue
}

func NewConNode(id Ts, val ConValue) *ConNode {
	return &ConNode{
		Id:  id,
		Val: val,
	}
}

func (self *ConNode) NodeId() Ts {
	return self.Id
}

// last write wins register pointing at another node.
// writes with a lower id than the current value lose
type ValNode struct {
	Id  Ts
	Val Ts
}

func NewValNode(id Ts) *ValNode {
	return &ValNode{
		Id: id,
	}
}

func (self *ValNode) NodeId() Ts {
	return self.Id
}

func (self *ValNode) Set(val Ts) bool {
	if self.Val != Origin && CompareTs(val, self.Val) <= 0 {
		return false
	}
	self.Val = val
	return true
}

type objEntry struct {
	key string
	id  Ts
}

// map of string keys to child nodes. entries keep first insertion order,
// each key is a last write wins register
type ObjNode struct {
	Id      Ts
	entries []objEntry
}

func NewObjNode(id Ts) *ObjNode {
	return &ObjNode{
		Id:      id,
		entries: []objEntry{},
	}
}

func (self *ObjNode) NodeId() Ts {
	return self.Id
}

func (self *ObjNode) Put(key string, id Ts) bool {
	for i := range self.entries {
		if self.entries[i].key == key {
			if CompareTs(id, self.entries[i].id) <= 0 {
				return false
			}
			self.entries[i].id = id
			return true
		}
	}
	self.entries = append(self.entries, objEntry{
		key: key,
		id:  id,
	})
	return true
}

func (self *ObjNode) Get(key string) (Ts, bool) {
	for i := range self.entries {
		if self.entries[i].key == key {
			return self.entries[i].id, true
		}
	}
	return Ts{}, false
}

// calls the callback per key in first insertion order
func (self *ObjNode) Scan(callback func(key string, id Ts)) {
	for i := range self.entries {
		callback(self.entries[i].key, self.entries[i].id)
	}
}

// sparse fixed index tuple. each slot is a last write wins register
type VecNode struct {
	Id    Ts
	slots map[uint8]Ts
}

func NewVecNode(id Ts) *VecNode {
	return &VecNode{
		Id:    id,
		slots: map[uint8]Ts{},
	}
}

func (self *VecNode) NodeId() Ts {
	return self.Id
}

func (self *VecNode) Put(index uint8, id Ts) bool {
	existing, ok := self.slots[index]
	if ok && CompareTs(id, existing) <= 0 {
		return false
	}
	self.slots[index] = id
	return true
}

func (self *VecNode) Get(index uint8) (Ts, bool) {
	id, ok := self.slots[index]
	return id, ok
}

// number of slots including empty ones below the highest set index
func (self *VecNode) Size() int {
	size := 0
	for index := range self.slots {
		if size <= int(index) {
			size = int(index) + 1
		}
	}
	return size
}

// mutable text backed by an rga of utf-8 runs.
// logical spans count utf-16 code units
type StrNode struct {
	Id  Ts
	rga *rga[string]
}

func NewStrNode(id Ts) *StrNode {
	return &StrNode{
		Id:  id,
		rga: newRga[string](splitString),
	}
}

func (self *StrNode) NodeId() Ts {
	return self.Id
}

func (self *StrNode) Ins(after Ts, id Ts, span uint64, data string) {
	if after == self.Id {
		after = Origin
	}
	self.rga.Insert(after, id, span, data)
}

func (self *StrNode) Delete(spans []Tss) {
	for _, span := range spans {
		self.rga.Delete(span)
	}
}

func (self *StrNode) View() string {
	var b strings.Builder
	self.rga.ScanLive(func(chunk *Chunk[string]) {
		b.WriteString(chunk.Data)
	})
	return b.String()
}

func (self *StrNode) Size() uint64 {
	return self.rga.Size()
}

// one entry per live character: its id and its utf-16 width
func (self *StrNode) Slots() []Tss {
	slots := []Tss{}
	self.rga.ScanLive(func(chunk *Chunk[string]) {
		offset := uint64(0)
		for _, r := range chunk.Data {
			width := uint64(1)
			if 0xffff < r {
				width = 2
			}
			slots = append(slots, Tss{
				Sid:  chunk.Id.Sid,
				Time: chunk.Id.Time + offset,
				Span: width,
			})
			offset += width
		}
	})
	return slots
}

// mutable byte string backed by an rga of byte runs
type BinNode struct {
	Id  Ts
	rga *rga[[]byte]
}

func NewBinNode(id Ts) *BinNode {
	return &BinNode{
		Id:  id,
		rga: newRga[[]byte](splitBytes),
	}
}

func (self *BinNode) NodeId() Ts {
	return self.Id
}

func (self *BinNode) Ins(after Ts, id Ts, data []byte) {
	if after == self.Id {
		after = Origin
	}
	self.rga.Insert(after, id, uint64(len(data)), data)
}

func (self *BinNode) Delete(spans []Tss) {
	for _, span := range spans {
		self.rga.Delete(span)
	}
}

func (self *BinNode) View() []byte {
	out := []byte{}
	self.rga.ScanLive(func(chunk *Chunk[[]byte]) {
		out = append(out, chunk.Data...)
	})
	return out
}

func (self *BinNode) Size() uint64 {
	return self.rga.Size()
}

// one entry per live byte
func (self *BinNode) Slots() []Tss {
	slots := []Tss{}
	self.rga.ScanLive(func(chunk *Chunk[[]byte]) {
		for i := range chunk.Data {
			slots = append(slots, Tss{
				Sid:  chunk.Id.Sid,
				Time: chunk.Id.Time + uint64(i),
				Span: 1,
			})
		}
	})
	return slots
}

// ordered list of child nodes backed by an rga of id runs.
// each element is additionally a last write wins register via upd
type ArrNode struct {
	Id  Ts
	rga *rga[[]Ts]
}

func NewArrNode(id Ts) *ArrNode {
	return &ArrNode{
		Id:  id,
		rga: newRga[[]Ts](splitIds),
	}
}

func (self *ArrNode) NodeId() Ts {
	return self.Id
}

func (self *ArrNode) Ins(after Ts, id Ts, data []Ts) {
	if after == self.Id {
		after = Origin
	}
	self.rga.Insert(after, id, uint64(len(data)), data)
}

func (self *ArrNode) Delete(spans []Tss) {
	for _, span := range spans {
		self.rga.Delete(span)
	}
}

// replaces the element at slot `ref` if `val` has a higher id
func (self *ArrNode) Upd(ref Ts, val Ts) bool {
	chunk := self.rga.FindById(ref)
	if chunk == nil || chunk.Deleted {
		return false
	}
	offset := ref.Time - chunk.Id.Time
	if CompareTs(val, chunk.Data[offset]) <= 0 {
		return false
	}
	chunk.Data[offset] = val
	return true
}

// ids of the live element value nodes in document order
func (self *ArrNode) Values() []Ts {
	values := []Ts{}
	self.rga.ScanLive(func(chunk *Chunk[[]Ts]) {
		values = append(values, chunk.Data...)
	})
	return values
}

// one entry per live element slot
func (self *ArrNode) Slots() []Tss {
	slots := []Tss{}
	self.rga.ScanLive(func(chunk *Chunk[[]Ts]) {
		for i := range chunk.Data {
			slots = append(slots, Tss{
				Sid:  chunk.Id.Sid,
				Time: chunk.Id.Time + uint64(i),
				Span: 1,
			})
		}
	})
	return slots
}

func (self *ArrNode) Size() uint64 {
	return self.rga.Size()
}

// splits at a utf-16 offset. an offset landing inside a surrogate
// pair keeps the whole pair on the left half
func splitString(data string, at uint64) (string, string) {
	i := uint64(0)
	for pos, r := range data {
		if at <= i {
			return data[:pos], data[pos:]
		}
		i += 1
		if 0xffff < r {
			i += 1
		}
	}
	return data, ""
}

func splitBytes(data []byte, at uint64) ([]byte, []byte) {
	return data[:at:at], data[at:]
}

func splitIds(data []Ts, at uint64) ([]Ts, []Ts) {
	return data[:at:at], data[at:]
}
