package jsoncrdt

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyPatch = errors.New("patch has no operations")

// an ordered batch of operations from a single session.
// operation ids are contiguous: each op starts where the previous ended
type Patch struct {
	Ops  []Op
	Meta any
	// original wire bytes for payloads the binary decoder passed through
	// without interpreting. nil for patches built locally
	raw []byte
}

func NewPatch() *Patch {
	return &Patch{
		Ops: []Op{},
	}
}

// the id of the first operation
func (self *Patch) GetId() (Ts, bool) {
	if len(self.Ops) == 0 {
		return Ts{}, false
	}
	return self.Ops[0].OpId(), true
}

// total logical clock span consumed by all operations
func (self *Patch) Span() uint64 {
	span := uint64(0)
	for _, op := range self.Ops {
		span += op.Span()
	}
	return span
}

// the logical time expected for the next operation. zero when empty
func (self *Patch) NextTime() uint64 {
	if len(self.Ops) == 0 {
		return 0
	}
	last := self.Ops[len(self.Ops)-1]
	return last.OpId().Time + last.Span()
}

// a new patch with every timestamp passed through `f`
func (self *Patch) RewriteTime(f func(Ts) Ts) *Patch {
	out := &Patch{
		Ops:  make([]Op, 0, len(self.Ops)),
		Meta: self.Meta,
	}
	for _, op := range self.Ops {
		out.Ops = append(out.Ops, rewriteOp(op, f))
	}
	return out
}

// shifts the patch so that its first operation begins at `newTime`.
// only ids from the patch's own session at or after `transformAfter`
// move; pass the patch start time to shift everything
func (self *Patch) Rebase(newTime uint64, transformAfter uint64) (*Patch, error) {
	id, ok := self.GetId()
	if !ok {
		return nil, ErrEmptyPatch
	}
	if id.Time == newTime {
		return self.RewriteTime(func(id Ts) Ts {
			return id
		}), nil
	}
	delta := int64(newTime) - int64(id.Time)
	return self.RewriteTime(func(t Ts) Ts {
		if t.Sid != id.Sid || t.Time < transformAfter {
			return t
		}
		return Ts{
			Sid:  t.Sid,
			Time: uint64(int64(t.Time) + delta),
		}
	}), nil
}

func (self *Patch) Clone() *Patch {
	out := self.RewriteTime(func(id Ts) Ts {
		return id
	})
	out.raw = self.raw
	return out
}

func (self *Patch) String() string {
	var b strings.Builder
	if id, ok := self.GetId(); ok {
		fmt.Fprintf(&b, "Patch %s!%d", id, self.Span())
	} else {
		fmt.Fprintf(&b, "Patch (nil)!0")
	}
	for _, op := range self.Ops {
		fmt.Fprintf(&b, "\n  %v", op)
	}
	return b.String()
}

func rewriteOp(op Op, f func(Ts) Ts) Op {
	switch o := op.(type) {
	case *NewConOp:
		val := o.Val
		if val.Ref != nil {
			ref := f(*val.Ref)
			val = ConValue{Ref: &ref}
		}
		return &NewConOp{Id: f(o.Id), Val: val}
	case *NewValOp:
		return &NewValOp{Id: f(o.Id)}
	case *NewObjOp:
		return &NewObjOp{Id: f(o.Id)}
	case *NewVecOp:
		return &NewVecOp{Id: f(o.Id)}
	case *NewStrOp:
		return &NewStrOp{Id: f(o.Id)}
	case *NewBinOp:
		return &NewBinOp{Id: f(o.Id)}
	case *NewArrOp:
		return &NewArrOp{Id: f(o.Id)}
	case *InsValOp:
		return &InsValOp{Id: f(o.Id), Obj: f(o.Obj), Val: f(o.Val)}
	case *InsObjOp:
		data := make([]ObjEntry, 0, len(o.Data))
		for _, entry := range o.Data {
			data = append(data, ObjEntry{Key: entry.Key, Id: f(entry.Id)})
		}
		return &InsObjOp{Id: f(o.Id), Obj: f(o.Obj), Data: data}
	case *InsVecOp:
		data := make([]VecEntry, 0, len(o.Data))
		for _, entry := range o.Data {
			data = append(data, VecEntry{Index: entry.Index, Id: f(entry.Id)})
		}
		return &InsVecOp{Id: f(o.Id), Obj: f(o.Obj), Data: data}
	case *InsStrOp:
		return &InsStrOp{Id: f(o.Id), Obj: f(o.Obj), After: f(o.After), Data: o.Data}
	case *InsBinOp:
		data := make([]byte, len(o.Data))
		copy(data, o.Data)
		return &InsBinOp{Id: f(o.Id), Obj: f(o.Obj), After: f(o.After), Data: data}
	case *InsArrOp:
		data := make([]Ts, 0, len(o.Data))
		for _, id := range o.Data {
			data = append(data, f(id))
		}
		return &InsArrOp{Id: f(o.Id), Obj: f(o.Obj), After: f(o.After), Data: data}
	case *UpdArrOp:
		return &UpdArrOp{Id: f(o.Id), Obj: f(o.Obj), Ref: f(o.Ref), Val: f(o.Val)}
	case *DelOp:
		what := make([]Tss, 0, len(o.What))
		for _, tss := range o.What {
			id := f(tss.Ts())
			what = append(what, Tss{Sid: id.Sid, Time: id.Time, Span: tss.Span})
		}
		return &DelOp{Id: f(o.Id), Obj: f(o.Obj), What: what}
	case *NopOp:
		return &NopOp{Id: f(o.Id), Len: o.Len}
	default:
		panic(fmt.Sprintf("unknown op type %T", op))
	}
}
