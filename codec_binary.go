package jsoncrdt

import (
	"errors"
	"unicode/utf8"

	"github.com/golang/glog"
)

var ErrUnknownOpcode = errors.New("unknown patch opcode")
var ErrTrailingBytes = errors.New("trailing bytes in patch")
var ErrInvalidUtf8 = errors.New("invalid utf8 in string payload")

// binary patch codec.
//
// layout: vu57 sid, vu57 time, one cbor item for meta (undefined when
// absent, otherwise a one element array), vu57 op count, then ops.
// each op starts with an octet packing opcode<<3 | length, where a zero
// low part defers the length to a following vu57. ids are b1vu56 with
// the flag marking a foreign session, in which case a vu57 sid follows

func EncodeBinary(patch *Patch) ([]byte, error) {
	if len(patch.Ops) == 0 && patch.raw != nil {
		// an opaque payload passed through by the decoder
		return patch.raw, nil
	}
	id, ok := patch.GetId()
	if !ok {
		return nil, ErrEmptyPatch
	}
	w := newBinaryWriter()
	w.WriteVu57(id.Sid)
	w.WriteVu57(id.Time)
	if patch.Meta == nil {
		w.WriteU8(cborUndefined)
	} else {
		if err := writeCbor(w, []any{patch.Meta}); err != nil {
			return nil, err
		}
	}
	w.WriteVu57(uint64(len(patch.Ops)))
	for _, op := range patch.Ops {
		if err := encodeBinaryOp(w, op, id.Sid); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func writeBinaryId(w *binaryWriter, id Ts, patchSid uint64) {
	if id.Sid == patchSid {
		w.WriteB1Vu56(false, id.Time)
	} else {
		w.WriteB1Vu56(true, id.Time)
		w.WriteVu57(id.Sid)
	}
}

// opcode<<3 | length when the length fits three bits, else vu57
func writeOpOctet(w *binaryWriter, opcode uint8, length uint64) {
	if 0 < length && length <= 0b111 {
		w.WriteU8(opcode<<3 | uint8(length))
	} else {
		w.WriteU8(opcode << 3)
		w.WriteVu57(length)
	}
}

func encodeBinaryOp(w *binaryWriter, op Op, patchSid uint64) error {
	switch o := op.(type) {
	case *NewConOp:
		if o.Val.Ref != nil {
			w.WriteU8(OpcodeNewCon<<3 | 1)
			writeBinaryId(w, *o.Val.Ref, patchSid)
		} else {
			w.WriteU8(OpcodeNewCon << 3)
			if err := writeCbor(w, o.Val.Value); err != nil {
				return err
			}
		}
	case *NewValOp:
		w.WriteU8(OpcodeNewVal << 3)
	case *NewObjOp:
		w.WriteU8(OpcodeNewObj << 3)
	case *NewVecOp:
		w.WriteU8(OpcodeNewVec << 3)
	case *NewStrOp:
		w.WriteU8(OpcodeNewStr << 3)
	case *NewBinOp:
		w.WriteU8(OpcodeNewBin << 3)
	case *NewArrOp:
		w.WriteU8(OpcodeNewArr << 3)
	case *InsValOp:
		w.WriteU8(OpcodeInsVal << 3)
		writeBinaryId(w, o.Obj, patchSid)
		writeBinaryId(w, o.Val, patchSid)
	case *InsObjOp:
		writeOpOctet(w, OpcodeInsObj, uint64(len(o.Data)))
		writeBinaryId(w, o.Obj, patchSid)
		for _, entry := range o.Data {
			if err := writeCbor(w, entry.Key); err != nil {
				return err
			}
			writeBinaryId(w, entry.Id, patchSid)
		}
	case *InsVecOp:
		writeOpOctet(w, OpcodeInsVec, uint64(len(o.Data)))
		writeBinaryId(w, o.Obj, patchSid)
		for _, entry := range o.Data {
			if err := writeCbor(w, int64(entry.Index)); err != nil {
				return err
			}
			writeBinaryId(w, entry.Id, patchSid)
		}
	case *InsStrOp:
		data := []byte(o.Data)
		writeOpOctet(w, OpcodeInsStr, uint64(len(data)))
		writeBinaryId(w, o.Obj, patchSid)
		writeBinaryId(w, o.After, patchSid)
		w.Write(data)
	case *InsBinOp:
		writeOpOctet(w, OpcodeInsBin, uint64(len(o.Data)))
		writeBinaryId(w, o.Obj, patchSid)
		writeBinaryId(w, o.After, patchSid)
		w.Write(o.Data)
	case *InsArrOp:
		writeOpOctet(w, OpcodeInsArr, uint64(len(o.Data)))
		writeBinaryId(w, o.Obj, patchSid)
		writeBinaryId(w, o.After, patchSid)
		for _, id := range o.Data {
			writeBinaryId(w, id, patchSid)
		}
	case *UpdArrOp:
		w.WriteU8(OpcodeUpdArr << 3)
		writeBinaryId(w, o.Obj, patchSid)
		writeBinaryId(w, o.Ref, patchSid)
		writeBinaryId(w, o.Val, patchSid)
	case *DelOp:
		writeOpOctet(w, OpcodeDel, uint64(len(o.What)))
		writeBinaryId(w, o.Obj, patchSid)
		for _, tss := range o.What {
			writeBinaryId(w, tss.Ts(), patchSid)
			w.WriteVu57(tss.Span)
		}
	case *NopOp:
		writeOpOctet(w, OpcodeNop, o.Len)
	}
	return nil
}

// decoding is permissive to stay wire compatible with the upstream
// node decoder: most malformed payloads come back as an opaque patch
// that re-encodes byte for byte. the exception is cbor-invalid input
// that starts with an ascii '{', which is a hard error
func DecodeBinary(data []byte) (*Patch, error) {
	patch, err := decodeBinaryPatch(data)
	if err != nil {
		if errors.Is(err, ErrInvalidCbor) && 0 < len(data) && data[0] == 0x7b {
			return nil, err
		}
		glog.V(2).Infof("[codec]opaque patch passthrough: %s\n", err)
		return &Patch{Ops: []Op{}, raw: data}, nil
	}
	return patch, nil
}

func decodeBinaryPatch(data []byte) (*Patch, error) {
	r := newBinaryReader(data)
	sid, err := r.ReadVu57()
	if err != nil {
		return nil, err
	}
	time, err := r.ReadVu57()
	if err != nil {
		return nil, err
	}
	meta, err := readCbor(r)
	if err != nil {
		return nil, err
	}
	var builder *PatchBuilder
	if sid == SessionServer {
		builder = NewPatchBuilder(NewServerClockVector(time))
	} else {
		builder = NewPatchBuilder(NewClockVector(sid, time))
	}
	opCount, err := r.ReadVu57()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < opCount; i += 1 {
		if err := decodeBinaryOp(r, builder, sid); err != nil {
			return nil, err
		}
	}
	if 0 < r.Remaining() {
		return nil, ErrTrailingBytes
	}
	patch, err := builder.Flush()
	if err != nil {
		return nil, err
	}
	switch m := meta.(type) {
	case Undefined:
	case []any:
		if 0 < len(m) {
			patch.Meta = m[0]
		}
	default:
		patch.Meta = m
	}
	return patch, nil
}

func readBinaryId(r *binaryReader, patchSid uint64) (Ts, error) {
	foreign, time, err := r.ReadB1Vu56()
	if err != nil {
		return Ts{}, err
	}
	if !foreign {
		return Ts{Sid: patchSid, Time: time}, nil
	}
	sid, err := r.ReadVu57()
	if err != nil {
		return Ts{}, err
	}
	return Ts{Sid: sid, Time: time}, nil
}

func readOpLength(r *binaryReader, octet byte) (uint64, error) {
	low := uint64(octet & 0b111)
	if low == 0 {
		return r.ReadVu57()
	}
	return low, nil
}

func decodeBinaryOp(r *binaryReader, builder *PatchBuilder, patchSid uint64) error {
	octet, err := r.ReadU8()
	if err != nil {
		return err
	}
	opcode := octet >> 3
	switch opcode {
	case OpcodeNewCon:
		if octet&0b111 == 0 {
			value, err := readCbor(r)
			if err != nil {
				return err
			}
			builder.Con(value)
		} else {
			ref, err := readBinaryId(r, patchSid)
			if err != nil {
				return err
			}
			builder.ConRef(ref)
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
		obj, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		val, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		builder.SetVal(obj, val)
	case OpcodeInsObj:
		length, err := readOpLength(r, octet)
		if err != nil {
			return err
		}
		obj, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		data := []ObjEntry{}
		for i := uint64(0); i < length; i += 1 {
			key, err := readCborString(r)
			if err != nil {
				return err
			}
			id, err := readBinaryId(r, patchSid)
			if err != nil {
				return err
			}
			data = append(data, ObjEntry{Key: key, Id: id})
		}
		builder.InsObj(obj, data)
	case OpcodeInsVec:
		length, err := readOpLength(r, octet)
		if err != nil {
			return err
		}
		obj, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		data := []VecEntry{}
		for i := uint64(0); i < length; i += 1 {
			index, err := readCborUint(r)
			if err != nil {
				return err
			}
			id, err := readBinaryId(r, patchSid)
			if err != nil {
				return err
			}
			data = append(data, VecEntry{Index: uint8(index), Id: id})
		}
		builder.InsVec(obj, data)
	case OpcodeInsStr:
		length, err := readOpLength(r, octet)
		if err != nil {
			return err
		}
		obj, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		after, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		data, err := r.ReadBytes(int(length))
		if err != nil {
			return err
		}
		if !utf8.Valid(data) {
			return ErrInvalidUtf8
		}
		builder.InsStr(obj, after, string(data))
	case OpcodeInsBin:
		length, err := readOpLength(r, octet)
		if err != nil {
			return err
		}
		obj, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		after, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		data, err := r.ReadBytes(int(length))
		if err != nil {
			return err
		}
		builder.InsBin(obj, after, data)
	case OpcodeInsArr:
		length, err := readOpLength(r, octet)
		if err != nil {
			return err
		}
		obj, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		after, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		data := []Ts{}
		for i := uint64(0); i < length; i += 1 {
			id, err := readBinaryId(r, patchSid)
			if err != nil {
				return err
			}
			data = append(data, id)
		}
		builder.InsArr(obj, after, data)
	case OpcodeUpdArr:
		obj, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		ref, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		val, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		builder.UpdArr(obj, ref, val)
	case OpcodeDel:
		length, err := readOpLength(r, octet)
		if err != nil {
			return err
		}
		obj, err := readBinaryId(r, patchSid)
		if err != nil {
			return err
		}
		what := []Tss{}
		for i := uint64(0); i < length; i += 1 {
			id, err := readBinaryId(r, patchSid)
			if err != nil {
				return err
			}
			span, err := r.ReadVu57()
			if err != nil {
				return err
			}
			what = append(what, Tss{Sid: id.Sid, Time: id.Time, Span: span})
		}
		builder.Del(obj, what)
	case OpcodeNop:
		length, err := readOpLength(r, octet)
		if err != nil {
			return err
		}
		builder.Nop(length)
	default:
		return ErrUnknownOpcode
	}
	return nil
}
