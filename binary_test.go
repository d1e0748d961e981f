package jsoncrdt

import (
	mathrand "math/rand"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestVu57(t *testing.T) {
	values := []uint64{
		0,
		1,
		0x7f,
		0x80,
		0x3fff,
		0x4000,
		1 << 20,
		1 << 48,
		(uint64(1) << 57) - 1,
	}
	for i := 0; i < 1000; i += 1 {
		values = append(values, mathrand.Uint64()&((uint64(1)<<57)-1))
	}
	for _, v := range values {
		w := newBinaryWriter()
		w.WriteVu57(v)
		r := newBinaryReader(w.Bytes())
		out, err := r.ReadVu57()
		assert.Equal(t, err, nil)
		assert.Equal(t, v, out)
		assert.Equal(t, 0, r.Remaining())
	}

	// single byte values stay single byte
	w := newBinaryWriter()
	w.WriteVu57(0x7f)
	assert.Equal(t, 1, w.Len())
	w = newBinaryWriter()
	w.WriteVu57(0x80)
	assert.Equal(t, 2, w.Len())

	r := newBinaryReader([]byte{})
	_, err := r.ReadVu57()
	assert.Equal(t, err, ErrBinaryOverflow)
}

func TestB1Vu56(t *testing.T) {
	values := []uint64{
		0,
		1,
		0x3f,
		0x40,
		0x1fff,
		1 << 30,
		(uint64(1) << 56) - 1,
	}
	for i := 0; i < 1000; i += 1 {
		values = append(values, mathrand.Uint64()&((uint64(1)<<56)-1))
	}
	for _, v := range values {
		for _, flag := range []bool{false, true} {
			w := newBinaryWriter()
			w.WriteB1Vu56(flag, v)
			r := newBinaryReader(w.Bytes())
			outFlag, out, err := r.ReadB1Vu56()
			assert.Equal(t, err, nil)
			assert.Equal(t, flag, outFlag)
			assert.Equal(t, v, out)
			assert.Equal(t, 0, r.Remaining())
		}
	}

	// values below 64 fit the first byte
	w := newBinaryWriter()
	w.WriteB1Vu56(true, 0x3f)
	assert.Equal(t, 1, w.Len())
	w = newBinaryWriter()
	w.WriteB1Vu56(false, 0x40)
	assert.Equal(t, 2, w.Len())
}

func TestRelId(t *testing.T) {
	type relCase struct {
		sessionIdx uint64
		timeDiff   uint64
	}
	cases := []relCase{
		{0, 1},
		{0, 15},
		{7, 15},
		{7, 16},
		{8, 0},
		{8, 3},
		{3, 1000},
		{1000, 1},
		{1000, 1 << 30},
	}
	for i := 0; i < 1000; i += 1 {
		cases = append(cases, relCase{
			sessionIdx: mathrand.Uint64() & ((uint64(1) << 40) - 1),
			timeDiff:   mathrand.Uint64() & ((uint64(1) << 50) - 1),
		})
	}
	for _, c := range cases {
		w := newBinaryWriter()
		writeRelId(w, c.sessionIdx, c.timeDiff)
		if c.sessionIdx <= 7 && c.timeDiff <= 15 {
			assert.Equal(t, 1, w.Len())
		}
		r := newBinaryReader(w.Bytes())
		sessionIdx, timeDiff, err := readRelId(r)
		assert.Equal(t, err, nil)
		assert.Equal(t, c.sessionIdx, sessionIdx)
		assert.Equal(t, c.timeDiff, timeDiff)
		assert.Equal(t, 0, r.Remaining())
	}
}

func TestClockTable(t *testing.T) {
	table := []ClockBase{
		{Sid: 12345, Time: 777},
		{Sid: 1, Time: 3},
		{Sid: uint64(1) << 52, Time: uint64(1) << 40},
	}
	w := newBinaryWriter()
	writeClockTable(w, table)
	r := newBinaryReader(w.Bytes())
	out, err := readClockTable(r)
	assert.Equal(t, err, nil)
	assert.Equal(t, table, out)
	assert.Equal(t, 0, r.Remaining())

	// an empty table is malformed
	w = newBinaryWriter()
	w.WriteVu57(0)
	r = newBinaryReader(w.Bytes())
	_, err = readClockTable(r)
	assert.Equal(t, err, ErrBinaryMalformed)
}

func TestWriterSetU32(t *testing.T) {
	w := newBinaryWriter()
	w.WriteU32(0)
	w.WriteU8(0xaa)
	w.SetU32(0, 0x01020304)
	r := newBinaryReader(w.Bytes())
	v, err := r.ReadU32()
	assert.Equal(t, err, nil)
	assert.Equal(t, uint32(0x01020304), v)
	b, err := r.ReadU8()
	assert.Equal(t, err, nil)
	assert.Equal(t, byte(0xaa), b)
}
