package jsoncrdt

import (
	"errors"
	mathrand "math/rand"
	"testing"

	"github.com/go-playground/assert/v2"
)

// a patch exercising every opcode, foreign ids and a non trivial
// starting time
func buildRichPatch(t *testing.T, clock Clock) *Patch {
	b := NewPatchBuilder(clock)
	objId := b.Obj()
	strId := b.Str()
	insStrId := b.InsStr(strId, strId, "héllo\U0001f600")
	binId := b.Bin()
	b.InsBin(binId, binId, []byte{0, 1, 2, 255})
	conId := b.Con(42)
	b.ConRef(conId)
	b.Con(Undef)
	b.Con(map[string]any{"pi": 3.5, "ok": true, "list": []any{1, "two"}})
	valId := b.Val()
	b.SetVal(valId, conId)
	vecId := b.Vec()
	b.InsVec(vecId, []VecEntry{
		{Index: 0, Id: conId},
		{Index: 2, Id: strId},
	})
	b.InsObj(objId, []ObjEntry{
		{Key: "s", Id: strId},
		{Key: "v", Id: valId},
	})
	arrId := b.Arr()
	insArrId := b.InsArr(arrId, arrId, []Ts{valId, conId})
	b.UpdArr(arrId, insArrId, conId)
	b.Del(strId, []Tss{
		{Sid: insStrId.Sid, Time: insStrId.Time + 1, Span: 2},
		{Sid: 9, Time: 100, Span: 3},
	})
	// an edit against another session's node
	b.InsStr(Ts{Sid: 999, Time: 50}, Ts{Sid: 999, Time: 52}, "x")
	b.Nop(3)
	b.Root(objId)
	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	return patch
}

func TestBinaryCodecRoundTrip(t *testing.T) {
	patch := buildRichPatch(t, NewClockVector(100, 5))
	patch.Meta = map[string]any{"tag": "rev7"}

	data, err := EncodeBinary(patch)
	assert.Equal(t, err, nil)
	out, err := DecodeBinary(data)
	assert.Equal(t, err, nil)
	assert.Equal(t, patch.Ops, out.Ops)
	assert.Equal(t, patch.Meta, out.Meta)

	data2, err := EncodeBinary(out)
	assert.Equal(t, err, nil)
	assert.Equal(t, data, data2)
}

func TestBinaryCodecServerSession(t *testing.T) {
	patch := buildRichPatch(t, NewServerClockVector(1))
	data, err := EncodeBinary(patch)
	assert.Equal(t, err, nil)
	out, err := DecodeBinary(data)
	assert.Equal(t, err, nil)
	assert.Equal(t, patch.Ops, out.Ops)
	assert.Equal(t, nil, out.Meta)
}

func TestBinaryCodecNoMeta(t *testing.T) {
	b := NewPatchBuilder(NewClockVector(7, 1))
	b.Con("only")
	patch, err := b.Flush()
	assert.Equal(t, err, nil)

	data, err := EncodeBinary(patch)
	assert.Equal(t, err, nil)
	out, err := DecodeBinary(data)
	assert.Equal(t, err, nil)
	assert.Equal(t, patch.Ops, out.Ops)
	assert.Equal(t, nil, out.Meta)
}

func TestBinaryCodecEmptyPatch(t *testing.T) {
	_, err := EncodeBinary(NewPatch())
	assert.Equal(t, err, ErrEmptyPatch)
}

func TestBinaryCodecOpaquePassthrough(t *testing.T) {
	// payloads that do not parse come back opaque and re-encode
	// byte for byte
	payloads := [][]byte{
		{0x00},
		{0xff, 0x00, 0x01},
		{0x01, 0x01, 0xf7, 0x05},
	}
	for _, data := range payloads {
		patch, err := DecodeBinary(data)
		assert.Equal(t, err, nil)
		assert.Equal(t, 0, len(patch.Ops))
		out, err := EncodeBinary(patch)
		assert.Equal(t, err, nil)
		assert.Equal(t, data, out)
	}
}

func TestBinaryCodecInvalidUtf8Payload(t *testing.T) {
	b := NewPatchBuilder(NewClockVector(100, 5))
	strId := b.Str()
	b.InsStr(strId, strId, "ab")
	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	data, err := EncodeBinary(patch)
	assert.Equal(t, err, nil)

	// corrupt the string payload. 0xff is never valid utf8, so the
	// decode takes the opaque path instead of producing mojibake
	data[len(data)-2] = 0xff
	out, err := DecodeBinary(data)
	assert.Equal(t, err, nil)
	assert.Equal(t, 0, len(out.Ops))
	reenc, err := EncodeBinary(out)
	assert.Equal(t, err, nil)
	assert.Equal(t, data, reenc)
}

func TestBinaryCodecTrailingBytes(t *testing.T) {
	b := NewPatchBuilder(NewClockVector(7, 1))
	b.Con(1)
	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	data, err := EncodeBinary(patch)
	assert.Equal(t, err, nil)

	extended := append(append([]byte{}, data...), 0x00, 0x00)
	out, err := DecodeBinary(extended)
	assert.Equal(t, err, nil)
	assert.Equal(t, 0, len(out.Ops))
	reenc, err := EncodeBinary(out)
	assert.Equal(t, err, nil)
	assert.Equal(t, extended, reenc)
}

func TestBinaryCodecRejectsJSONLookalike(t *testing.T) {
	// cbor-invalid input starting with '{' is a hard error instead of
	// an opaque passthrough
	_, err := DecodeBinary([]byte{0x7b, 0x01, 0xff})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, true, errors.Is(err, ErrInvalidCbor))
}

func TestBinaryCodecFuzzDoesNotPanic(t *testing.T) {
	for i := 0; i < 1000; i += 1 {
		data := make([]byte, 1+mathrand.Intn(24))
		for j := range data {
			data[j] = byte(mathrand.Intn(256))
		}
		if data[0] == 0x7b {
			continue
		}
		patch, err := DecodeBinary(data)
		assert.Equal(t, err, nil)
		if len(patch.Ops) == 0 {
			out, err := EncodeBinary(patch)
			assert.Equal(t, err, nil)
			assert.Equal(t, data, out)
		}
	}
}
