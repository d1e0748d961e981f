package jsoncrdt

import (
	"encoding/binary"
	"errors"
)

var ErrBinaryOverflow = errors.New("unexpected end of binary input")
var ErrBinaryMalformed = errors.New("malformed binary input")

// append only byte writer for the wire codecs
type binaryWriter struct {
	buf []byte
}

func newBinaryWriter() *binaryWriter {
	return &binaryWriter{
		buf: []byte{},
	}
}

func (self *binaryWriter) Len() int {
	return len(self.buf)
}

func (self *binaryWriter) Bytes() []byte {
	return self.buf
}

func (self *binaryWriter) WriteU8(b byte) {
	self.buf = append(self.buf, b)
}

func (self *binaryWriter) WriteU32(v uint32) {
	self.buf = binary.BigEndian.AppendUint32(self.buf, v)
}

func (self *binaryWriter) Write(b []byte) {
	self.buf = append(self.buf, b...)
}

// sets a previously reserved big endian u32 at `offset`
func (self *binaryWriter) SetU32(offset int, v uint32) {
	binary.BigEndian.PutUint32(self.buf[offset:offset+4], v)
}

// vu57: little endian base 128 varint with a 57 bit payload.
// the eighth byte, when present, carries the top eight bits raw
func (self *binaryWriter) WriteVu57(v uint64) {
	for i := 0; i < 7; i += 1 {
		if v < 0x80 {
			self.WriteU8(byte(v))
			return
		}
		self.WriteU8(byte(v&0x7f) | 0x80)
		v >>= 7
	}
	self.WriteU8(byte(v & 0xff))
}

// b1vu56: one flag bit, then a 56 bit varint.
// the first byte packs flag<<7 | continuation<<6 | low six bits
func (self *binaryWriter) WriteB1Vu56(flag bool, v uint64) {
	first := byte(v & 0x3f)
	if flag {
		first |= 0x80
	}
	v >>= 6
	if v == 0 {
		self.WriteU8(first)
		return
	}
	self.WriteU8(first | 0x40)
	for i := 0; i < 6; i += 1 {
		if v < 0x80 {
			self.WriteU8(byte(v))
			return
		}
		self.WriteU8(byte(v&0x7f) | 0x80)
		v >>= 7
	}
	self.WriteU8(byte(v & 0xff))
}

type binaryReader struct {
	buf []byte
	pos int
}

func newBinaryReader(buf []byte) *binaryReader {
	return &binaryReader{
		buf: buf,
		pos: 0,
	}
}

func (self *binaryReader) Remaining() int {
	return len(self.buf) - self.pos
}

func (self *binaryReader) Rest() []byte {
	return self.buf[self.pos:]
}

func (self *binaryReader) Skip(n int) error {
	if self.Remaining() < n {
		return ErrBinaryOverflow
	}
	self.pos += n
	return nil
}

func (self *binaryReader) ReadU8() (byte, error) {
	if self.Remaining() < 1 {
		return 0, ErrBinaryOverflow
	}
	b := self.buf[self.pos]
	self.pos += 1
	return b, nil
}

func (self *binaryReader) PeekU8() (byte, error) {
	if self.Remaining() < 1 {
		return 0, ErrBinaryOverflow
	}
	return self.buf[self.pos], nil
}

func (self *binaryReader) ReadU32() (uint32, error) {
	if self.Remaining() < 4 {
		return 0, ErrBinaryOverflow
	}
	v := binary.BigEndian.Uint32(self.buf[self.pos : self.pos+4])
	self.pos += 4
	return v, nil
}

func (self *binaryReader) ReadBytes(n int) ([]byte, error) {
	if self.Remaining() < n {
		return nil, ErrBinaryOverflow
	}
	b := self.buf[self.pos : self.pos+n]
	self.pos += n
	return b, nil
}

func (self *binaryReader) ReadVu57() (uint64, error) {
	v := uint64(0)
	for i := 0; i < 7; i += 1 {
		b, err := self.ReadU8()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			return v, nil
		}
	}
	b, err := self.ReadU8()
	if err != nil {
		return 0, err
	}
	v |= uint64(b) << 49
	return v, nil
}

func (self *binaryReader) ReadB1Vu56() (bool, uint64, error) {
	first, err := self.ReadU8()
	if err != nil {
		return false, 0, err
	}
	flag := first&0x80 != 0
	v := uint64(first & 0x3f)
	if first&0x40 == 0 {
		return flag, v, nil
	}
	for i := 0; i < 6; i += 1 {
		b, err := self.ReadU8()
		if err != nil {
			return false, 0, err
		}
		v |= uint64(b&0x7f) << (6 + 7*i)
		if b < 0x80 {
			return flag, v, nil
		}
	}
	b, err := self.ReadU8()
	if err != nil {
		return false, 0, err
	}
	v |= uint64(b) << 48
	return flag, v, nil
}

// clock table codec used by the document format.
// count, then a (sid, time) vu57 pair per session
func writeClockTable(w *binaryWriter, table []ClockBase) {
	w.WriteVu57(uint64(len(table)))
	for _, base := range table {
		w.WriteVu57(base.Sid)
		w.WriteVu57(base.Time)
	}
}

func readClockTable(r *binaryReader) ([]ClockBase, error) {
	count, err := r.ReadVu57()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrBinaryMalformed
	}
	table := []ClockBase{}
	for i := uint64(0); i < count; i += 1 {
		sid, err := r.ReadVu57()
		if err != nil {
			return nil, err
		}
		time, err := r.ReadVu57()
		if err != nil {
			return nil, err
		}
		table = append(table, ClockBase{
			Sid:  sid,
			Time: time,
		})
	}
	return table, nil
}

// relative id against a clock table entry.
// one packed byte when the session index fits four bits shifted once
// and the time difference fits four bits, otherwise b1vu56 + vu57
func writeRelId(w *binaryWriter, sessionIdx uint64, timeDiff uint64) {
	if sessionIdx <= 7 && timeDiff <= 15 {
		w.WriteU8(byte(sessionIdx<<4 | timeDiff))
	} else {
		w.WriteB1Vu56(true, sessionIdx)
		w.WriteVu57(timeDiff)
	}
}

func readRelId(r *binaryReader) (uint64, uint64, error) {
	b, err := r.PeekU8()
	if err != nil {
		return 0, 0, err
	}
	if b <= 0x7f {
		r.pos += 1
		return uint64(b >> 4), uint64(b & 0x0f), nil
	}
	_, sessionIdx, err := r.ReadB1Vu56()
	if err != nil {
		return 0, 0, err
	}
	timeDiff, err := r.ReadVu57()
	if err != nil {
		return 0, 0, err
	}
	return sessionIdx, timeDiff, nil
}
