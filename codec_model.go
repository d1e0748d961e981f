package jsoncrdt

import (
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrInvalidModel = errors.New("invalid model data")

// node framing majors
const (
	modelMajorCon = uint8(0)
	modelMajorVal = uint8(1)
	modelMajorObj = uint8(2)
	modelMajorVec = uint8(3)
	modelMajorStr = uint8(4)
	modelMajorBin = uint8(5)
	modelMajorArr = uint8(6)
)

const serverModelMarker = byte(0b10000000)

// document codec. stores a whole model including tombstones.
//
// the logical layout is a big endian u32 offset to the clock table,
// the root node tree, then the table itself: a vu57 count followed by
// vu57 (sid, time) pairs, the model's own session first. node ids are
// encoded relative to their session's table entry. the server layout
// replaces the table with a marker byte and a single vu57 time.
//
// each node starts with its id and an octet packing major<<5 | minor,
// where minor 31 defers the length to a vu57

func EncodeModel(model *Model) ([]byte, error) {
	if model.clock.SessionId() == SessionServer {
		return encodeServerModel(model)
	}
	table := buildClockTable(model)
	enc := &modelEncoder{
		model:      model,
		table:      table,
		sessionIdx: map[uint64]uint64{},
		tableTime:  map[uint64]uint64{},
	}
	for i, base := range table {
		enc.sessionIdx[base.Sid] = uint64(i)
		enc.tableTime[base.Sid] = base.Time
	}
	body := newBinaryWriter()
	if err := enc.writeRoot(body); err != nil {
		return nil, err
	}
	w := newBinaryWriter()
	w.WriteU32(uint32(body.Len()))
	w.Write(body.Bytes())
	writeClockTable(w, table)
	return w.Bytes(), nil
}

func encodeServerModel(model *Model) ([]byte, error) {
	time := model.clock.Time()
	enc := &modelEncoder{
		model:      model,
		sessionIdx: map[uint64]uint64{SessionServer: 0},
		tableTime:  map[uint64]uint64{SessionServer: time},
	}
	w := newBinaryWriter()
	w.WriteU8(serverModelMarker)
	w.WriteVu57(time)
	if err := enc.writeRoot(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// the highest time that will be encoded per session, own session first.
// the own entry uses the clock's next time so relative offsets stay
// positive
func buildClockTable(model *Model) []ClockBase {
	maxTimes := map[uint64]uint64{}
	observe := func(id Ts, span uint64) {
		last := id.Time
		if 0 < span {
			last = id.Time + span - 1
		}
		// the session registers even at time zero so the placeholder
		// for an unset register gets a table entry
		if current, ok := maxTimes[id.Sid]; !ok || current < last {
			maxTimes[id.Sid] = last
		}
	}
	if !model.root.IsOrigin() {
		collectIds(model, model.root, observe)
	}
	own := model.clock.SessionId()
	ownTime := model.clock.Time()
	if ownTime < maxTimes[own]+1 {
		ownTime = maxTimes[own] + 1
	}
	table := []ClockBase{{Sid: own, Time: ownTime}}
	for _, sid := range sortedSessions(maxTimes) {
		if sid == own {
			continue
		}
		table = append(table, ClockBase{Sid: sid, Time: maxTimes[sid]})
	}
	return table
}

func sortedSessions(m map[uint64]uint64) []uint64 {
	sessions := maps.Keys(m)
	slices.Sort(sessions)
	return sessions
}

// walks the reachable node tree calling back every id that the
// encoder will write, tombstones included
func collectIds(model *Model, id Ts, observe func(id Ts, span uint64)) {
	observe(id, 1)
	switch node := model.index[id].(type) {
	case *ConNode:
		if node.Val.Ref != nil {
			observe(*node.Val.Ref, 1)
		}
	case *ValNode:
		// an unset register encodes a placeholder child at the origin id
		collectIds(model, node.Val, observe)
	case *ObjNode:
		node.Scan(func(key string, child Ts) {
			collectIds(model, child, observe)
		})
	case *VecNode:
		for i := 0; i < node.Size(); i += 1 {
			if child, ok := node.Get(uint8(i)); ok {
				collectIds(model, child, observe)
			}
		}
	case *StrNode:
		node.rga.Scan(func(chunk *Chunk[string]) {
			observe(chunk.Id, chunk.Span)
		})
	case *BinNode:
		node.rga.Scan(func(chunk *Chunk[[]byte]) {
			observe(chunk.Id, chunk.Span)
		})
	case *ArrNode:
		node.rga.Scan(func(chunk *Chunk[[]Ts]) {
			observe(chunk.Id, chunk.Span)
			for _, child := range chunk.Data {
				collectIds(model, child, observe)
			}
		})
	}
}

type modelEncoder struct {
	model      *Model
	table      []ClockBase
	sessionIdx map[uint64]uint64
	tableTime  map[uint64]uint64
}

func (self *modelEncoder) writeId(w *binaryWriter, id Ts) error {
	idx, ok := self.sessionIdx[id.Sid]
	if !ok {
		return fmt.Errorf("session %d missing from clock table", id.Sid)
	}
	base := self.tableTime[id.Sid]
	if base < id.Time {
		return fmt.Errorf("id %s ahead of clock table", id)
	}
	writeRelId(w, idx, base-id.Time)
	return nil
}

func writeNodeOctet(w *binaryWriter, major uint8, length uint64) {
	if length < 31 {
		w.WriteU8(major<<5 | uint8(length))
	} else {
		w.WriteU8(major<<5 | 31)
		w.WriteVu57(length)
	}
}

func (self *modelEncoder) writeRoot(w *binaryWriter) error {
	if self.model.root.IsOrigin() {
		w.WriteU8(0)
		return nil
	}
	return self.writeNode(w, self.model.root)
}

func (self *modelEncoder) writeNode(w *binaryWriter, id Ts) error {
	switch node := self.model.index[id].(type) {
	case *ConNode:
		if err := self.writeId(w, id); err != nil {
			return err
		}
		if node.Val.Ref != nil {
			writeNodeOctet(w, modelMajorCon, 1)
			return self.writeId(w, *node.Val.Ref)
		}
		writeNodeOctet(w, modelMajorCon, 0)
		return writeCbor(w, node.Val.Value)
	case *ValNode:
		if err := self.writeId(w, id); err != nil {
			return err
		}
		writeNodeOctet(w, modelMajorVal, 0)
		return self.writeNode(w, node.Val)
	case *ObjNode:
		if err := self.writeId(w, id); err != nil {
			return err
		}
		count := uint64(0)
		node.Scan(func(key string, child Ts) {
			count += 1
		})
		writeNodeOctet(w, modelMajorObj, count)
		var scanErr error
		node.Scan(func(key string, child Ts) {
			if scanErr != nil {
				return
			}
			if err := writeCbor(w, key); err != nil {
				scanErr = err
				return
			}
			scanErr = self.writeNode(w, child)
		})
		return scanErr
	case *VecNode:
		if err := self.writeId(w, id); err != nil {
			return err
		}
		size := node.Size()
		writeNodeOctet(w, modelMajorVec, uint64(size))
		for i := 0; i < size; i += 1 {
			child, ok := node.Get(uint8(i))
			if !ok {
				w.WriteU8(0)
				continue
			}
			if err := self.writeNode(w, child); err != nil {
				return err
			}
		}
		return nil
	case *StrNode:
		if err := self.writeId(w, id); err != nil {
			return err
		}
		writeNodeOctet(w, modelMajorStr, uint64(node.rga.Len()))
		var scanErr error
		node.rga.Scan(func(chunk *Chunk[string]) {
			if scanErr != nil {
				return
			}
			if err := self.writeId(w, chunk.Id); err != nil {
				scanErr = err
				return
			}
			if chunk.Deleted {
				scanErr = writeCbor(w, chunk.Span)
			} else {
				scanErr = writeCbor(w, chunk.Data)
			}
		})
		return scanErr
	case *BinNode:
		if err := self.writeId(w, id); err != nil {
			return err
		}
		writeNodeOctet(w, modelMajorBin, uint64(node.rga.Len()))
		var scanErr error
		node.rga.Scan(func(chunk *Chunk[[]byte]) {
			if scanErr != nil {
				return
			}
			if err := self.writeId(w, chunk.Id); err != nil {
				scanErr = err
				return
			}
			w.WriteB1Vu56(chunk.Deleted, chunk.Span)
			if !chunk.Deleted {
				w.Write(chunk.Data)
			}
		})
		return scanErr
	case *ArrNode:
		if err := self.writeId(w, id); err != nil {
			return err
		}
		writeNodeOctet(w, modelMajorArr, uint64(node.rga.Len()))
		var scanErr error
		node.rga.Scan(func(chunk *Chunk[[]Ts]) {
			if scanErr != nil {
				return
			}
			if err := self.writeId(w, chunk.Id); err != nil {
				scanErr = err
				return
			}
			w.WriteB1Vu56(chunk.Deleted, chunk.Span)
			if chunk.Deleted {
				return
			}
			for _, child := range chunk.Data {
				if err := self.writeNode(w, child); err != nil {
					scanErr = err
					return
				}
			}
		})
		return scanErr
	default:
		// a dangling reference encodes as an erased constant
		return self.writeErased(w, id)
	}
}

func (self *modelEncoder) writeErased(w *binaryWriter, id Ts) error {
	if err := self.writeId(w, id); err != nil {
		return err
	}
	writeNodeOctet(w, modelMajorCon, 0)
	return writeCbor(w, Undef)
}

func DecodeModel(data []byte) (*Model, error) {
	r := newBinaryReader(data)
	first, err := r.PeekU8()
	if err != nil {
		return nil, err
	}
	if first&serverModelMarker != 0 {
		return decodeServerModel(r)
	}
	offset, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	rootStart := r.pos
	clockStart := rootStart + int(offset)
	if len(data) < clockStart {
		return nil, ErrInvalidModel
	}
	tableReader := newBinaryReader(data[clockStart:])
	table, err := readClockTable(tableReader)
	if err != nil {
		return nil, err
	}
	clock := NewClockVector(table[0].Sid, table[0].Time)
	for _, base := range table[1:] {
		clock.Observe(Ts{Sid: base.Sid, Time: base.Time}, 1)
	}
	// foreign observations can push the local counter, restore it
	clock.time = table[0].Time
	model := newModelWithClock(clock)
	dec := &modelDecoder{
		model: model,
		table: table,
	}
	rootReader := newBinaryReader(data[rootStart:clockStart])
	if err := dec.readRoot(rootReader); err != nil {
		return nil, err
	}
	if 0 < rootReader.Remaining() {
		return nil, ErrInvalidModel
	}
	return model, nil
}

func decodeServerModel(r *binaryReader) (*Model, error) {
	if _, err := r.ReadU8(); err != nil {
		return nil, err
	}
	time, err := r.ReadVu57()
	if err != nil {
		return nil, err
	}
	model := newModelWithClock(NewServerClockVector(time))
	dec := &modelDecoder{
		model: model,
		table: []ClockBase{{Sid: SessionServer, Time: time}},
	}
	if err := dec.readRoot(r); err != nil {
		return nil, err
	}
	if 0 < r.Remaining() {
		return nil, ErrInvalidModel
	}
	return model, nil
}

type modelDecoder struct {
	model *Model
	table []ClockBase
}

func (self *modelDecoder) readId(r *binaryReader) (Ts, error) {
	idx, diff, err := readRelId(r)
	if err != nil {
		return Ts{}, err
	}
	if uint64(len(self.table)) <= idx {
		return Ts{}, ErrInvalidModel
	}
	base := self.table[idx]
	if base.Time < diff {
		return Ts{}, ErrInvalidModel
	}
	return Ts{Sid: base.Sid, Time: base.Time - diff}, nil
}

func (self *modelDecoder) readRoot(r *binaryReader) error {
	first, err := r.PeekU8()
	if err != nil {
		return err
	}
	if first == 0 {
		r.pos += 1
		return nil
	}
	id, err := self.readNode(r)
	if err != nil {
		return err
	}
	self.model.root = id
	return nil
}

// decodes one node, registers it in the model index and returns its id
func (self *modelDecoder) readNode(r *binaryReader) (Ts, error) {
	id, err := self.readId(r)
	if err != nil {
		return Ts{}, err
	}
	octet, err := r.ReadU8()
	if err != nil {
		return Ts{}, err
	}
	major := octet >> 5
	length := uint64(octet & 0b11111)
	if length == 31 {
		length, err = r.ReadVu57()
		if err != nil {
			return Ts{}, err
		}
	}
	switch major {
	case modelMajorCon:
		if length == 0 {
			value, err := readCbor(r)
			if err != nil {
				return Ts{}, err
			}
			self.model.index[id] = NewConNode(id, ConValue{Value: value})
		} else {
			ref, err := self.readId(r)
			if err != nil {
				return Ts{}, err
			}
			self.model.index[id] = NewConNode(id, ConRefOf(ref))
		}
		return id, nil
	case modelMajorVal:
		child, err := self.readNode(r)
		if err != nil {
			return Ts{}, err
		}
		node := NewValNode(id)
		node.Val = child
		self.model.index[id] = node
		return id, nil
	case modelMajorObj:
		node := NewObjNode(id)
		for i := uint64(0); i < length; i += 1 {
			key, err := readCborString(r)
			if err != nil {
				return Ts{}, err
			}
			child, err := self.readNode(r)
			if err != nil {
				return Ts{}, err
			}
			node.Put(key, child)
		}
		self.model.index[id] = node
		return id, nil
	case modelMajorVec:
		node := NewVecNode(id)
		for i := uint64(0); i < length; i += 1 {
			first, err := r.PeekU8()
			if err != nil {
				return Ts{}, err
			}
			if first == 0 {
				r.pos += 1
				continue
			}
			child, err := self.readNode(r)
			if err != nil {
				return Ts{}, err
			}
			node.Put(uint8(i), child)
		}
		self.model.index[id] = node
		return id, nil
	case modelMajorStr:
		node := NewStrNode(id)
		for i := uint64(0); i < length; i += 1 {
			chunkId, err := self.readId(r)
			if err != nil {
				return Ts{}, err
			}
			value, err := readCbor(r)
			if err != nil {
				return Ts{}, err
			}
			switch v := value.(type) {
			case string:
				node.rga.PushChunk(&Chunk[string]{
					Id:   chunkId,
					Span: utf16Len(v),
					Data: v,
				})
			case int64:
				if v < 0 {
					return Ts{}, ErrInvalidModel
				}
				node.rga.PushChunk(&Chunk[string]{
					Id:      chunkId,
					Span:    uint64(v),
					Deleted: true,
				})
			case uint64:
				node.rga.PushChunk(&Chunk[string]{
					Id:      chunkId,
					Span:    v,
					Deleted: true,
				})
			default:
				return Ts{}, ErrInvalidModel
			}
		}
		self.model.index[id] = node
		return id, nil
	case modelMajorBin:
		node := NewBinNode(id)
		for i := uint64(0); i < length; i += 1 {
			chunkId, err := self.readId(r)
			if err != nil {
				return Ts{}, err
			}
			deleted, span, err := r.ReadB1Vu56()
			if err != nil {
				return Ts{}, err
			}
			if deleted {
				node.rga.PushChunk(&Chunk[[]byte]{
					Id:      chunkId,
					Span:    span,
					Deleted: true,
				})
				continue
			}
			data, err := r.ReadBytes(int(span))
			if err != nil {
				return Ts{}, err
			}
			node.rga.PushChunk(&Chunk[[]byte]{
				Id:   chunkId,
				Span: span,
				Data: data,
			})
		}
		self.model.index[id] = node
		return id, nil
	case modelMajorArr:
		node := NewArrNode(id)
		for i := uint64(0); i < length; i += 1 {
			chunkId, err := self.readId(r)
			if err != nil {
				return Ts{}, err
			}
			deleted, span, err := r.ReadB1Vu56()
			if err != nil {
				return Ts{}, err
			}
			if deleted {
				node.rga.PushChunk(&Chunk[[]Ts]{
					Id:      chunkId,
					Span:    span,
					Deleted: true,
				})
				continue
			}
			data := []Ts{}
			for j := uint64(0); j < span; j += 1 {
				child, err := self.readNode(r)
				if err != nil {
					return Ts{}, err
				}
				data = append(data, child)
			}
			node.rga.PushChunk(&Chunk[[]Ts]{
				Id:   chunkId,
				Span: span,
				Data: data,
			})
		}
		self.model.index[id] = node
		return id, nil
	default:
		return Ts{}, ErrInvalidModel
	}
}
