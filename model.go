package jsoncrdt

import (
	"github.com/golang/glog"
)

// a json crdt document. the node graph is indexed by node id,
// the root is a last write wins register pointing at the top node
type Model struct {
	clock Clock
	root  Ts
	index map[Ts]Node
}

// a model with its own editing session
func NewModel(sid uint64) *Model {
	return &Model{
		clock: NewClockVector(sid, 1),
		index: map[Ts]Node{},
	}
}

// a model driven by the single shared server session
func NewServerModel() *Model {
	return &Model{
		clock: NewServerClockVector(1),
		index: map[Ts]Node{},
	}
}

func newModelWithClock(clock Clock) *Model {
	return &Model{
		clock: clock,
		index: map[Ts]Node{},
	}
}

func (self *Model) Clock() Clock {
	return self.clock
}

// the id of the current root node. origin when the root was never set
func (self *Model) RootId() Ts {
	return self.root
}

func (self *Model) Node(id Ts) Node {
	return self.index[id]
}

// a builder that allocates ids from this model's clock
func (self *Model) Builder() *PatchBuilder {
	return NewPatchBuilder(self.clock)
}

// applies all operations in order. operations against missing or
// mismatched targets are skipped, so patches can arrive out of order
// and more than once
func (self *Model) Apply(patch *Patch) {
	for _, op := range patch.Ops {
		self.applyOp(op)
		self.clock.Observe(op.OpId(), op.Span())
	}
}

func (self *Model) applyOp(op Op) {
	switch o := op.(type) {
	case *NewConOp:
		self.create(o.Id, NewConNode(o.Id, o.Val))
	case *NewValOp:
		self.create(o.Id, NewValNode(o.Id))
	case *NewObjOp:
		self.create(o.Id, NewObjNode(o.Id))
	case *NewVecOp:
		self.create(o.Id, NewVecNode(o.Id))
	case *NewStrOp:
		self.create(o.Id, NewStrNode(o.Id))
	case *NewBinOp:
		self.create(o.Id, NewBinNode(o.Id))
	case *NewArrOp:
		self.create(o.Id, NewArrNode(o.Id))
	case *InsValOp:
		if o.Obj.IsOrigin() {
			if self.root.IsOrigin() || 0 < CompareTs(o.Val, self.root) {
				self.root = o.Val
			}
			return
		}
		if node, ok := self.index[o.Obj].(*ValNode); ok {
			node.Set(o.Val)
		} else {
			self.skip(op)
		}
	case *InsObjOp:
		if node, ok := self.index[o.Obj].(*ObjNode); ok {
			for _, entry := range o.Data {
				node.Put(entry.Key, entry.Id)
			}
		} else {
			self.skip(op)
		}
	case *InsVecOp:
		if node, ok := self.index[o.Obj].(*VecNode); ok {
			for _, entry := range o.Data {
				node.Put(entry.Index, entry.Id)
			}
		} else {
			self.skip(op)
		}
	case *InsStrOp:
		if node, ok := self.index[o.Obj].(*StrNode); ok {
			node.Ins(o.After, o.Id, o.Span(), o.Data)
		} else {
			self.skip(op)
		}
	case *InsBinOp:
		if node, ok := self.index[o.Obj].(*BinNode); ok {
			node.Ins(o.After, o.Id, o.Data)
		} else {
			self.skip(op)
		}
	case *InsArrOp:
		if node, ok := self.index[o.Obj].(*ArrNode); ok {
			node.Ins(o.After, o.Id, o.Data)
		} else {
			self.skip(op)
		}
	case *UpdArrOp:
		if node, ok := self.index[o.Obj].(*ArrNode); ok {
			node.Upd(o.Ref, o.Val)
		} else {
			self.skip(op)
		}
	case *DelOp:
		switch node := self.index[o.Obj].(type) {
		case *StrNode:
			node.Delete(o.What)
		case *BinNode:
			node.Delete(o.What)
		case *ArrNode:
			node.Delete(o.What)
		default:
			self.skip(op)
		}
	case *NopOp:
	}
}

func (self *Model) create(id Ts, node Node) {
	if _, ok := self.index[id]; ok {
		// duplicate delivery
		return
	}
	self.index[id] = node
}

func (self *Model) skip(op Op) {
	glog.V(2).Infof("[apply]skip %s %s\n", op.OpName(), op.OpId())
}

// the native value of the whole document
func (self *Model) View() any {
	if self.root.IsOrigin() {
		return nil
	}
	return self.viewOf(self.root)
}

func (self *Model) viewOf(id Ts) any {
	switch node := self.index[id].(type) {
	case *ConNode:
		if node.Val.Ref != nil {
			return nil
		}
		if _, ok := node.Val.Value.(Undefined); ok {
			return nil
		}
		return node.Val.Value
	case *ValNode:
		if node.Val.IsOrigin() {
			return nil
		}
		return self.viewOf(node.Val)
	case *ObjNode:
		out := map[string]any{}
		node.Scan(func(key string, id Ts) {
			if self.erased(id) {
				return
			}
			out[key] = self.viewOf(id)
		})
		return out
	case *VecNode:
		out := []any{}
		for i := 0; i < node.Size(); i += 1 {
			if id, ok := node.Get(uint8(i)); ok {
				out = append(out, self.viewOf(id))
			} else {
				out = append(out, nil)
			}
		}
		return out
	case *StrNode:
		return node.View()
	case *BinNode:
		return node.View()
	case *ArrNode:
		out := []any{}
		for _, id := range node.Values() {
			out = append(out, self.viewOf(id))
		}
		return out
	default:
		return nil
	}
}

// keys resolving to a missing node or an erased constant are
// omitted from object views
func (self *Model) erased(id Ts) bool {
	node, ok := self.index[id]
	if !ok {
		return true
	}
	if con, ok := node.(*ConNode); ok && con.Val.Ref == nil {
		if _, ok := con.Val.Value.(Undefined); ok {
			return true
		}
	}
	return false
}

// follows val registers and con references down to a concrete node
func (self *Model) resolve(id Ts) Node {
	for i := 0; i < 64; i += 1 {
		node, ok := self.index[id]
		if !ok {
			return nil
		}
		switch n := node.(type) {
		case *ValNode:
			if n.Val.IsOrigin() {
				return nil
			}
			id = n.Val
		case *ConNode:
			if n.Val.Ref == nil {
				return n
			}
			id = *n.Val.Ref
		default:
			return node
		}
	}
	return nil
}
