package jsoncrdt

import (
	"fmt"
)

// accumulates operations into a patch, allocating contiguous ids
// from the clock. all mutations of a model go through a builder
type PatchBuilder struct {
	clock Clock
	patch *Patch
	err   error
}

func NewPatchBuilder(clock Clock) *PatchBuilder {
	return &PatchBuilder{
		clock: clock,
		patch: NewPatch(),
	}
}

// first error hit while allocating ids, if any
func (self *PatchBuilder) Err() error {
	return self.err
}

// returns the accumulated patch and starts a new one
func (self *PatchBuilder) Flush() (*Patch, error) {
	if self.err != nil {
		return nil, self.err
	}
	patch := self.patch
	self.patch = NewPatch()
	return patch, nil
}

// allocates `span` ticks. if the clock moved ahead since the last op,
// a nop covers the gap so that patch ids stay contiguous
func (self *PatchBuilder) tick(span uint64) Ts {
	if self.err != nil {
		return Ts{}
	}
	next := self.patch.NextTime()
	if 0 < next && next < self.clock.Time() {
		gap := self.clock.Time() - next
		self.patch.Ops = append(self.patch.Ops, &NopOp{
			Id:  Ts{Sid: self.clock.SessionId(), Time: next},
			Len: gap,
		})
	}
	id, err := self.clock.Tick(span)
	if err != nil {
		self.err = err
		return Ts{}
	}
	return id
}

func (self *PatchBuilder) push(op Op) Ts {
	if self.err != nil {
		return Ts{}
	}
	self.patch.Ops = append(self.patch.Ops, op)
	return op.OpId()
}

// creates a con node holding an opaque value
func (self *PatchBuilder) Con(value any) Ts {
	id := self.tick(1)
	return self.push(&NewConOp{Id: id, Val: ConOf(value)})
}

// creates a con node referencing another timestamp
func (self *PatchBuilder) ConRef(ref Ts) Ts {
	id := self.tick(1)
	return self.push(&NewConOp{Id: id, Val: ConRefOf(ref)})
}

func (self *PatchBuilder) Val() Ts {
	return self.push(&NewValOp{Id: self.tick(1)})
}

func (self *PatchBuilder) Obj() Ts {
	return self.push(&NewObjOp{Id: self.tick(1)})
}

func (self *PatchBuilder) Vec() Ts {
	return self.push(&NewVecOp{Id: self.tick(1)})
}

func (self *PatchBuilder) Str() Ts {
	return self.push(&NewStrOp{Id: self.tick(1)})
}

func (self *PatchBuilder) Bin() Ts {
	return self.push(&NewBinOp{Id: self.tick(1)})
}

func (self *PatchBuilder) Arr() Ts {
	return self.push(&NewArrOp{Id: self.tick(1)})
}

// points the document root at `val`
func (self *PatchBuilder) Root(val Ts) Ts {
	id := self.tick(1)
	return self.push(&InsValOp{Id: id, Obj: Origin, Val: val})
}

// points the val register `obj` at `val`
func (self *PatchBuilder) SetVal(obj Ts, val Ts) Ts {
	id := self.tick(1)
	return self.push(&InsValOp{Id: id, Obj: obj, Val: val})
}

func (self *PatchBuilder) InsObj(obj Ts, data []ObjEntry) Ts {
	if len(data) == 0 {
		return Ts{}
	}
	id := self.tick(1)
	return self.push(&InsObjOp{Id: id, Obj: obj, Data: data})
}

func (self *PatchBuilder) InsVec(obj Ts, data []VecEntry) Ts {
	if len(data) == 0 {
		return Ts{}
	}
	id := self.tick(1)
	return self.push(&InsVecOp{Id: id, Obj: obj, Data: data})
}

func (self *PatchBuilder) InsStr(obj Ts, after Ts, data string) Ts {
	span := utf16Len(data)
	if span == 0 {
		return Ts{}
	}
	id := self.tick(span)
	return self.push(&InsStrOp{Id: id, Obj: obj, After: after, Data: data})
}

func (self *PatchBuilder) InsBin(obj Ts, after Ts, data []byte) Ts {
	if len(data) == 0 {
		return Ts{}
	}
	id := self.tick(uint64(len(data)))
	return self.push(&InsBinOp{Id: id, Obj: obj, After: after, Data: data})
}

func (self *PatchBuilder) InsArr(obj Ts, after Ts, data []Ts) Ts {
	if len(data) == 0 {
		return Ts{}
	}
	id := self.tick(uint64(len(data)))
	return self.push(&InsArrOp{Id: id, Obj: obj, After: after, Data: data})
}

func (self *PatchBuilder) UpdArr(obj Ts, ref Ts, val Ts) Ts {
	id := self.tick(1)
	return self.push(&UpdArrOp{Id: id, Obj: obj, Ref: ref, Val: val})
}

func (self *PatchBuilder) Del(obj Ts, what []Tss) Ts {
	if len(what) == 0 {
		return Ts{}
	}
	id := self.tick(1)
	return self.push(&DelOp{Id: id, Obj: obj, What: what})
}

func (self *PatchBuilder) Nop(length uint64) Ts {
	id := self.tick(length)
	return self.push(&NopOp{Id: id, Len: length})
}

// materializes a native value as a fresh node tree and returns the
// id of its top node. scalar array elements are wrapped in val
// registers so they stay editable in place
func (self *PatchBuilder) BuildJSON(value any) Ts {
	switch v := requireNormalValue(value).(type) {
	case nil, bool, int64, uint64, float64, Undefined:
		return self.Con(v)
	case string:
		id := self.Str()
		self.InsStr(id, id, v)
		return id
	case []byte:
		id := self.Bin()
		self.InsBin(id, id, v)
		return id
	case []any:
		id := self.Arr()
		items := []Ts{}
		for _, item := range v {
			items = append(items, self.buildArrElement(item))
		}
		self.InsArr(id, id, items)
		return id
	case map[string]any:
		id := self.Obj()
		entries := []ObjEntry{}
		for _, key := range sortedKeys(v) {
			entries = append(entries, ObjEntry{
				Key: key,
				Id:  self.BuildJSON(v[key]),
			})
		}
		self.InsObj(id, entries)
		return id
	default:
		panic(fmt.Sprintf("unsupported value type %T", value))
	}
}

func (self *PatchBuilder) buildArrElement(value any) Ts {
	switch value.(type) {
	case nil, bool, int64, uint64, float64:
		valId := self.Val()
		conId := self.Con(value)
		self.SetVal(valId, conId)
		return valId
	default:
		return self.BuildJSON(value)
	}
}
