package jsoncrdt

import (
	"encoding/base64"
	"encoding/json"
)

// compact json codec. one array per operation, opcode first.
// a plain number id means the patch's own session with an absolute time,
// foreign ids are [sid, time]. spans are [time, span] for the patch
// session and [sid, time, span] otherwise

func EncodeCompact(patch *Patch) ([]byte, error) {
	doc, err := encodeCompactValue(patch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonSafeValue(doc))
}

func DecodeCompact(data []byte) (*Patch, error) {
	doc, err := decodeJSONValue(data)
	if err != nil {
		return nil, err
	}
	arr, ok := doc.([]any)
	if !ok {
		return nil, ErrInvalidPatch
	}
	return decodeCompactValue(arr)
}

// compact binary codec: the compact array wrapped in cbor
func EncodeCompactBinary(patch *Patch) ([]byte, error) {
	doc, err := encodeCompactValue(patch)
	if err != nil {
		return nil, err
	}
	w := newBinaryWriter()
	if err := writeCbor(w, doc); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func DecodeCompactBinary(data []byte) (*Patch, error) {
	r := newBinaryReader(data)
	doc, err := readCbor(r)
	if err != nil {
		return nil, err
	}
	arr, ok := doc.([]any)
	if !ok {
		return nil, ErrInvalidPatch
	}
	return decodeCompactValue(arr)
}

func encodeCompactValue(patch *Patch) ([]any, error) {
	id, ok := patch.GetId()
	if !ok {
		return nil, ErrEmptyPatch
	}
	// a bare number in the header means the server session on decode,
	// so any other session ships the full [sid, time] pair
	header := []any{encodeCompactId(id, SessionServer)}
	if patch.Meta != nil {
		header = append(header, patch.Meta)
	}
	doc := []any{header}
	for _, op := range patch.Ops {
		doc = append(doc, encodeCompactOp(op, id.Sid))
	}
	return doc, nil
}

func encodeCompactId(id Ts, patchSid uint64) any {
	if id.Sid == patchSid {
		return id.Time
	}
	return []any{id.Sid, id.Time}
}

func encodeCompactTss(tss Tss, patchSid uint64) any {
	if tss.Sid == patchSid {
		return []any{tss.Time, tss.Span}
	}
	return []any{tss.Sid, tss.Time, tss.Span}
}

func encodeCompactOp(op Op, patchSid uint64) []any {
	code := uint64(op.Opcode())
	switch o := op.(type) {
	case *NewConOp:
		if o.Val.Ref != nil {
			return []any{code, encodeCompactId(*o.Val.Ref, patchSid), true}
		}
		if _, undef := o.Val.Value.(Undefined); undef {
			return []any{code}
		}
		return []any{code, o.Val.Value}
	case *InsValOp:
		return []any{code, encodeCompactId(o.Obj, patchSid), encodeCompactId(o.Val, patchSid)}
	case *InsObjOp:
		pairs := []any{}
		for _, entry := range o.Data {
			pairs = append(pairs, []any{entry.Key, encodeCompactId(entry.Id, patchSid)})
		}
		return []any{code, encodeCompactId(o.Obj, patchSid), pairs}
	case *InsVecOp:
		pairs := []any{}
		for _, entry := range o.Data {
			pairs = append(pairs, []any{uint64(entry.Index), encodeCompactId(entry.Id, patchSid)})
		}
		return []any{code, encodeCompactId(o.Obj, patchSid), pairs}
	case *InsStrOp:
		return []any{code, encodeCompactId(o.Obj, patchSid), encodeCompactId(o.After, patchSid), o.Data}
	case *InsBinOp:
		return []any{
			code,
			encodeCompactId(o.Obj, patchSid),
			encodeCompactId(o.After, patchSid),
			base64.StdEncoding.EncodeToString(o.Data),
		}
	case *InsArrOp:
		values := []any{}
		for _, id := range o.Data {
			values = append(values, encodeCompactId(id, patchSid))
		}
		return []any{code, encodeCompactId(o.Obj, patchSid), encodeCompactId(o.After, patchSid), values}
	case *UpdArrOp:
		return []any{
			code,
			encodeCompactId(o.Obj, patchSid),
			encodeCompactId(o.Ref, patchSid),
			encodeCompactId(o.Val, patchSid),
		}
	case *DelOp:
		what := []any{}
		for _, tss := range o.What {
			what = append(what, encodeCompactTss(tss, patchSid))
		}
		return []any{code, encodeCompactId(o.Obj, patchSid), what}
	case *NopOp:
		return []any{code, o.Len}
	default:
		return []any{code}
	}
}

func decodeCompactId(value any, patchSid uint64) Ts {
	switch v := value.(type) {
	case []any:
		if 2 <= len(v) {
			sid, _ := asUint(v[0])
			time, _ := asUint(v[1])
			return Ts{Sid: sid, Time: time}
		}
		return Ts{Sid: patchSid}
	default:
		time, _ := asUint(v)
		return Ts{Sid: patchSid, Time: time}
	}
}

func decodeCompactTss(value any, patchSid uint64) (Tss, bool) {
	arr, ok := value.([]any)
	if !ok {
		return Tss{}, false
	}
	switch len(arr) {
	case 3:
		sid, ok1 := asUint(arr[0])
		time, ok2 := asUint(arr[1])
		span, ok3 := asUint(arr[2])
		if !ok1 || !ok2 || !ok3 {
			return Tss{}, false
		}
		return Tss{Sid: sid, Time: time, Span: span}, true
	case 2:
		time, ok1 := asUint(arr[0])
		span, ok2 := asUint(arr[1])
		if !ok1 || !ok2 {
			return Tss{}, false
		}
		return Tss{Sid: patchSid, Time: time, Span: span}, true
	default:
		return Tss{}, false
	}
}

func decodeCompactValue(doc []any) (*Patch, error) {
	if len(doc) == 0 {
		return nil, ErrInvalidPatch
	}
	header, ok := doc[0].([]any)
	if !ok || len(header) == 0 {
		return nil, ErrInvalidPatch
	}
	var patchSid uint64
	var builder *PatchBuilder
	switch idValue := header[0].(type) {
	case []any:
		if len(idValue) < 2 {
			return nil, ErrInvalidPatch
		}
		sid, _ := asUint(idValue[0])
		time, _ := asUint(idValue[1])
		patchSid = sid
		builder = NewPatchBuilder(NewClockVector(sid, time))
	default:
		time, ok := asUint(idValue)
		if !ok {
			return nil, ErrInvalidPatch
		}
		patchSid = SessionServer
		builder = NewPatchBuilder(NewServerClockVector(time))
	}
	for _, opValue := range doc[1:] {
		arr, ok := opValue.([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		code, ok := asUint(arr[0])
		if !ok {
			continue
		}
		decodeCompactOp(builder, uint8(code), arr, patchSid)
	}
	patch, err := builder.Flush()
	if err != nil {
		return nil, err
	}
	if 2 <= len(header) {
		patch.Meta = header[1]
	}
	return patch, nil
}

func compactField(arr []any, i int) any {
	if i < len(arr) {
		return arr[i]
	}
	return nil
}

func decodeCompactOp(builder *PatchBuilder, code uint8, arr []any, patchSid uint64) {
	switch code {
	case OpcodeNewCon:
		if isTrue(compactField(arr, 2)) {
			builder.ConRef(decodeCompactId(compactField(arr, 1), patchSid))
		} else if 2 <= len(arr) {
			builder.Con(arr[1])
		} else {
			builder.Con(Undef)
		}
	case OpcodeNewVal:
		builder.Val()
	case OpcodeNewObj:
		builder.Obj()
	case OpcodeNewVec:
		builder.Vec()
	case OpcodeNewStr:
		builder.Str()
	case OpcodeNewBin:
		builder.Bin()
	case OpcodeNewArr:
		builder.Arr()
	case OpcodeInsVal:
		builder.SetVal(
			decodeCompactId(compactField(arr, 1), patchSid),
			decodeCompactId(compactField(arr, 2), patchSid),
		)
	case OpcodeInsObj:
		obj := decodeCompactId(compactField(arr, 1), patchSid)
		data := []ObjEntry{}
		if pairs, ok := compactField(arr, 2).([]any); ok {
			for _, pairValue := range pairs {
				pair, ok := pairValue.([]any)
				if !ok || len(pair) < 2 {
					continue
				}
				key, ok := pair[0].(string)
				if !ok {
					continue
				}
				data = append(data, ObjEntry{Key: key, Id: decodeCompactId(pair[1], patchSid)})
			}
		}
		builder.InsObj(obj, data)
	case OpcodeInsVec:
		obj := decodeCompactId(compactField(arr, 1), patchSid)
		data := []VecEntry{}
		if pairs, ok := compactField(arr, 2).([]any); ok {
			for _, pairValue := range pairs {
				pair, ok := pairValue.([]any)
				if !ok || len(pair) < 2 {
					continue
				}
				index, ok := asUint(pair[0])
				if !ok {
					continue
				}
				data = append(data, VecEntry{Index: uint8(index), Id: decodeCompactId(pair[1], patchSid)})
			}
		}
		builder.InsVec(obj, data)
	case OpcodeInsStr:
		obj := decodeCompactId(compactField(arr, 1), patchSid)
		after := decodeCompactId(compactField(arr, 2), patchSid)
		s, _ := compactField(arr, 3).(string)
		builder.InsStr(obj, after, s)
	case OpcodeInsBin:
		obj := decodeCompactId(compactField(arr, 1), patchSid)
		after := decodeCompactId(compactField(arr, 2), patchSid)
		b64, _ := compactField(arr, 3).(string)
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			data = nil
		}
		builder.InsBin(obj, after, data)
	case OpcodeInsArr:
		obj := decodeCompactId(compactField(arr, 1), patchSid)
		after := decodeCompactId(compactField(arr, 2), patchSid)
		data := []Ts{}
		if values, ok := compactField(arr, 3).([]any); ok {
			for _, value := range values {
				data = append(data, decodeCompactId(value, patchSid))
			}
		}
		builder.InsArr(obj, after, data)
	case OpcodeUpdArr:
		builder.UpdArr(
			decodeCompactId(compactField(arr, 1), patchSid),
			decodeCompactId(compactField(arr, 2), patchSid),
			decodeCompactId(compactField(arr, 3), patchSid),
		)
	case OpcodeDel:
		obj := decodeCompactId(compactField(arr, 1), patchSid)
		what := []Tss{}
		if spans, ok := compactField(arr, 2).([]any); ok {
			for _, spanValue := range spans {
				if tss, ok := decodeCompactTss(spanValue, patchSid); ok {
					what = append(what, tss)
				}
			}
		}
		builder.Del(obj, what)
	case OpcodeNop:
		length := uint64(1)
		if n, ok := asUint(compactField(arr, 1)); ok {
			length = n
		}
		builder.Nop(length)
	}
}
