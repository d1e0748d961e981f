package jsoncrdt

// allocates ids from a private cursor while emitting diff ops.
// the cursor starts at the model clock so the produced patch applies
// cleanly, but failed strategies can roll back without touching the clock
type diffEmitter struct {
	sid    uint64
	cursor uint64
	ops    []Op
}

func newDiffEmitter(sid uint64, startTime uint64) *diffEmitter {
	return &diffEmitter{
		sid:    sid,
		cursor: startTime,
		ops:    []Op{},
	}
}

func (self *diffEmitter) nextId() Ts {
	return Ts{
		Sid:  self.sid,
		Time: self.cursor,
	}
}

func (self *diffEmitter) push(op Op) {
	self.cursor += op.Span()
	self.ops = append(self.ops, op)
}

type diffMark struct {
	opCount int
	cursor  uint64
}

func (self *diffEmitter) mark() diffMark {
	return diffMark{
		opCount: len(self.ops),
		cursor:  self.cursor,
	}
}

func (self *diffEmitter) rollback(m diffMark) {
	self.ops = self.ops[:m.opCount]
	self.cursor = m.cursor
}

// materializes a native value as ops and returns the id of the top node.
// scalar array elements are wrapped in val registers, mirroring the
// builder's BuildJSON shape
func (self *diffEmitter) emitValue(value any) Ts {
	switch v := value.(type) {
	case nil, bool, int64, uint64, float64, Undefined:
		id := self.nextId()
		self.push(&NewConOp{Id: id, Val: ConValue{Value: v}})
		return id
	case string:
		strId := self.nextId()
		self.push(&NewStrOp{Id: strId})
		if v != "" {
			self.push(&InsStrOp{Id: self.nextId(), Obj: strId, After: strId, Data: v})
		}
		return strId
	case []byte:
		binId := self.nextId()
		self.push(&NewBinOp{Id: binId})
		if 0 < len(v) {
			self.push(&InsBinOp{Id: self.nextId(), Obj: binId, After: binId, Data: v})
		}
		return binId
	case []any:
		arrId := self.nextId()
		self.push(&NewArrOp{Id: arrId})
		if 0 < len(v) {
			children := []Ts{}
			for _, item := range v {
				if isConScalar(item) {
					valId := self.nextId()
					self.push(&NewValOp{Id: valId})
					conId := self.emitValue(item)
					self.push(&InsValOp{Id: self.nextId(), Obj: valId, Val: conId})
					children = append(children, valId)
				} else {
					children = append(children, self.emitValue(item))
				}
			}
			self.push(&InsArrOp{Id: self.nextId(), Obj: arrId, After: arrId, Data: children})
		}
		return arrId
	case map[string]any:
		objId := self.nextId()
		self.push(&NewObjOp{Id: objId})
		if 0 < len(v) {
			pairs := []ObjEntry{}
			for _, key := range sortedKeys(v) {
				pairs = append(pairs, ObjEntry{
					Key: key,
					Id:  self.emitValue(v[key]),
				})
			}
			self.push(&InsObjOp{Id: self.nextId(), Obj: objId, Data: pairs})
		}
		return objId
	default:
		id := self.nextId()
		self.push(&NewConOp{Id: id, Val: ConOf(v)})
		return id
	}
}

func isConScalar(value any) bool {
	switch value.(type) {
	case nil, bool, int64, uint64, float64:
		return true
	default:
		return false
	}
}

func isSequenceNative(value any) bool {
	if isConScalar(value) {
		return true
	}
	_, ok := value.(string)
	return ok
}

// computes a patch that transforms the current view into `dst`.
// the patch is not applied; apply it to this model or ship it
func (self *Model) Diff(dst any) (*Patch, error) {
	dstView, err := normalizeValue(dst)
	if err != nil {
		return nil, err
	}
	old := self.View()
	e := newDiffEmitter(self.clock.SessionId(), self.clock.Time())
	if viewEqual(old, dstView) {
		return &Patch{Ops: e.ops}, nil
	}
	if self.root.IsOrigin() || !self.diffChild(e, self.root, old, dstView) {
		id := e.emitValue(dstView)
		e.push(&InsValOp{Id: e.nextId(), Obj: Origin, Val: id})
	}
	return &Patch{Ops: e.ops}, nil
}

// like Diff, but `dst` only names the top level object keys to update.
// keys absent from `dst` keep their current value
func (self *Model) DiffDstKeys(dst any) (*Patch, error) {
	dstView, err := normalizeValue(dst)
	if err != nil {
		return nil, err
	}
	dstObj, ok := dstView.(map[string]any)
	if !ok {
		return self.Diff(dstView)
	}
	next := map[string]any{}
	if view, ok := self.View().(map[string]any); ok {
		for key, value := range view {
			next[key] = value
		}
	}
	for key, value := range dstObj {
		next[key] = value
	}
	return self.Diff(next)
}

// one strategy per shape pair, tried in order. returns false when no
// strategy applies and the caller must rebuild the subtree
func (self *Model) diffChild(e *diffEmitter, child Ts, old any, dst any) bool {
	switch oldV := old.(type) {
	case string:
		dstStr, ok := dst.(string)
		if !ok {
			return false
		}
		node, ok := self.resolve(child).(*StrNode)
		if !ok {
			return false
		}
		return self.diffStr(e, node, oldV, dstStr)
	case []byte:
		dstBin, ok := dst.([]byte)
		if !ok {
			return false
		}
		node, ok := self.resolve(child).(*BinNode)
		if !ok {
			return false
		}
		return self.diffBin(e, node, oldV, dstBin)
	case []any:
		dstArr, ok := dst.([]any)
		if !ok {
			return false
		}
		switch node := self.resolve(child).(type) {
		case *ArrNode:
			return self.diffArr(e, node, oldV, dstArr)
		case *VecNode:
			return self.diffVec(e, node, oldV, dstArr)
		}
		return false
	case map[string]any:
		dstObj, ok := dst.(map[string]any)
		if !ok {
			return false
		}
		node, ok := self.resolve(child).(*ObjNode)
		if !ok {
			return false
		}
		return self.diffObj(e, node, oldV, dstObj)
	}
	return false
}

// longest common prefix and suffix over characters. the changed middle
// becomes one insert and one coalesced delete
func (self *Model) diffStr(e *diffEmitter, node *StrNode, old string, dst string) bool {
	slots := node.Slots()
	oldChars := []rune(old)
	if len(oldChars) != len(slots) {
		return false
	}
	dstChars := []rune(dst)
	lcp, lcs := affixLengths(len(oldChars), len(dstChars), func(i int, j int) bool {
		return oldChars[i] == dstChars[j]
	})
	delLen := len(oldChars) - lcp - lcs
	ins := string(dstChars[lcp : len(dstChars)-lcs])
	if ins != "" {
		ref := chooseSequenceInsertRef(slots, node.Id, lcp, len(dstChars)-lcp-lcs, delLen, len(oldChars))
		e.push(&InsStrOp{Id: e.nextId(), Obj: node.Id, After: ref, Data: ins})
	}
	if 0 < delLen {
		e.push(&DelOp{Id: e.nextId(), Obj: node.Id, What: coalesceSlots(slots[lcp : lcp+delLen])})
	}
	return true
}

func (self *Model) diffBin(e *diffEmitter, node *BinNode, old []byte, dst []byte) bool {
	slots := node.Slots()
	if len(old) != len(slots) {
		return false
	}
	lcp, lcs := affixLengths(len(old), len(dst), func(i int, j int) bool {
		return old[i] == dst[j]
	})
	delLen := len(old) - lcp - lcs
	ins := dst[lcp : len(dst)-lcs]
	if 0 < len(ins) {
		ref := chooseSequenceInsertRef(slots, node.Id, lcp, len(ins), delLen, len(old))
		e.push(&InsBinOp{Id: e.nextId(), Obj: node.Id, After: ref, Data: ins})
	}
	if 0 < delLen {
		e.push(&DelOp{Id: e.nextId(), Obj: node.Id, What: coalesceSlots(slots[lcp : lcp+delLen])})
	}
	return true
}

func (self *Model) diffArr(e *diffEmitter, node *ArrNode, old []any, dst []any) bool {
	slots := node.Slots()
	values := node.Values()
	if self.diffArrIndexwise(e, node, slots, values, old, dst) {
		return true
	}
	// element delta over native scalar and string elements
	for _, item := range old {
		if !isSequenceNative(item) {
			return false
		}
	}
	for _, item := range dst {
		if !isSequenceNative(item) {
			return false
		}
	}
	if len(slots) != len(old) {
		return false
	}
	lcp, lcs := affixLengths(len(old), len(dst), func(i int, j int) bool {
		return viewEqual(old[i], dst[j])
	})
	delLen := len(old) - lcp - lcs
	insItems := dst[lcp : len(dst)-lcs]
	if 0 < len(insItems) {
		ref := chooseSequenceInsertRef(slots, node.Id, lcp, len(insItems), delLen, len(old))
		children := []Ts{}
		for _, item := range insItems {
			if isConScalar(item) {
				valId := e.nextId()
				e.push(&NewValOp{Id: valId})
				conId := e.emitValue(item)
				e.push(&InsValOp{Id: e.nextId(), Obj: valId, Val: conId})
				children = append(children, valId)
			} else {
				children = append(children, e.emitValue(item))
			}
		}
		e.push(&InsArrOp{Id: e.nextId(), Obj: node.Id, After: ref, Data: children})
	}
	if 0 < delLen {
		e.push(&DelOp{Id: e.nextId(), Obj: node.Id, What: coalesceSlots(slots[lcp : lcp+delLen])})
	}
	return true
}

// same length arrays patched in place. scalar replacements write the
// element register, everything else recurses
func (self *Model) diffArrIndexwise(e *diffEmitter, node *ArrNode, slots []Tss, values []Ts, old []any, dst []any) bool {
	if len(old) != len(dst) || len(old) != len(slots) || len(values) != len(slots) {
		return false
	}
	m := e.mark()
	for i := range old {
		if viewEqual(old[i], dst[i]) {
			continue
		}
		if isConScalar(dst[i]) {
			if valNode, ok := self.index[values[i]].(*ValNode); ok {
				conId := e.emitValue(dst[i])
				e.push(&InsValOp{Id: e.nextId(), Obj: valNode.Id, Val: conId})
				continue
			}
			conId := e.emitValue(dst[i])
			e.push(&UpdArrOp{Id: e.nextId(), Obj: node.Id, Ref: slots[i].Ts(), Val: conId})
			continue
		}
		if self.diffChild(e, values[i], old[i], dst[i]) {
			continue
		}
		e.rollback(m)
		return false
	}
	return true
}

// per index register writes. vec slots are never removed, so shrinking
// writes erased constants over the tail
func (self *Model) diffVec(e *diffEmitter, node *VecNode, old []any, dst []any) bool {
	if 255 < len(dst) {
		return false
	}
	entries := []VecEntry{}
	for i, item := range dst {
		if i < len(old) && viewEqual(old[i], item) {
			continue
		}
		entries = append(entries, VecEntry{
			Index: uint8(i),
			Id:    e.emitValue(item),
		})
	}
	for i := len(dst); i < len(old); i += 1 {
		id := e.nextId()
		e.push(&NewConOp{Id: id, Val: ConValue{Value: Undef}})
		entries = append(entries, VecEntry{
			Index: uint8(i),
			Id:    id,
		})
	}
	if 0 < len(entries) {
		e.push(&InsVecOp{Id: e.nextId(), Obj: node.Id, Data: entries})
	}
	return true
}

// removed keys become erased constants, changed keys recurse where the
// child shape allows it and are rebuilt otherwise
func (self *Model) diffObj(e *diffEmitter, node *ObjNode, old map[string]any, dst map[string]any) bool {
	pairs := []ObjEntry{}
	for _, key := range sortedKeys(old) {
		if _, ok := dst[key]; ok {
			continue
		}
		id := e.nextId()
		e.push(&NewConOp{Id: id, Val: ConValue{Value: Undef}})
		pairs = append(pairs, ObjEntry{Key: key, Id: id})
	}
	for _, key := range sortedKeys(dst) {
		oldValue, hasOld := old[key]
		if hasOld && viewEqual(oldValue, dst[key]) {
			continue
		}
		if childId, ok := node.Get(key); ok && hasOld {
			if self.diffChild(e, childId, oldValue, dst[key]) {
				continue
			}
		}
		pairs = append(pairs, ObjEntry{Key: key, Id: e.emitValue(dst[key])})
	}
	if 0 < len(pairs) {
		e.push(&InsObjOp{Id: e.nextId(), Obj: node.Id, Data: pairs})
	}
	return true
}

// longest common prefix and suffix lengths of two sequences.
// the suffix never overlaps the prefix
func affixLengths(oldLen int, dstLen int, eq func(i int, j int) bool) (int, int) {
	lcp := 0
	for lcp < oldLen && lcp < dstLen && eq(lcp, lcp) {
		lcp += 1
	}
	lcs := 0
	for lcs < oldLen-lcp && lcs < dstLen-lcp && eq(oldLen-1-lcs, dstLen-1-lcs) {
		lcs += 1
	}
	return lcp, lcs
}

// the upstream differ walks edits from the end, so a mixed replace
// window anchors the insert on the last deleted slot rather than the
// prefix slot. kept as a compatibility detail
func chooseSequenceInsertRef(slots []Tss, container Ts, lcp int, insLen int, delLen int, oldLen int) Ts {
	if 0 < insLen && 0 < delLen {
		idx := lcp + delLen - 1
		if idx < len(slots) {
			return slots[idx].Ts()
		}
	}
	if lcp == 0 && delLen == 0 {
		return container
	}
	if 0 < lcp && lcp-1 < len(slots) {
		return slots[lcp-1].Ts()
	}
	if 0 < oldLen && delLen == oldLen && oldLen-1 < len(slots) {
		return slots[oldLen-1].Ts()
	}
	if 0 < len(slots) {
		return slots[0].Ts()
	}
	return container
}

// merges adjacent single slots into runs where ids are contiguous
func coalesceSlots(slots []Tss) []Tss {
	out := []Tss{}
	for _, slot := range slots {
		if 0 < len(out) {
			last := &out[len(out)-1]
			if last.Sid == slot.Sid && last.Time+last.Span == slot.Time {
				last.Span += slot.Span
				continue
			}
		}
		out = append(out, slot)
	}
	return out
}
