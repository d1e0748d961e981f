package jsoncrdt

import (
	"fmt"
	"strings"
)

// wire opcodes. gaps are reserved by the format
const (
	OpcodeNewCon = uint8(0)
	OpcodeNewVal = uint8(1)
	OpcodeNewObj = uint8(2)
	OpcodeNewVec = uint8(3)
	OpcodeNewStr = uint8(4)
	OpcodeNewBin = uint8(5)
	OpcodeNewArr = uint8(6)
	OpcodeInsVal = uint8(9)
	OpcodeInsObj = uint8(10)
	OpcodeInsVec = uint8(11)
	OpcodeInsStr = uint8(12)
	OpcodeInsBin = uint8(13)
	OpcodeInsArr = uint8(14)
	OpcodeUpdArr = uint8(15)
	OpcodeDel    = uint8(16)
	OpcodeNop    = uint8(17)
)

// the payload of a con node. either an opaque value or a reference
// to another logical timestamp
type ConValue struct {
	Ref   *Ts
	Value any
}

func ConOf(value any) ConValue {
	return ConValue{
		Value: requireNormalValue(value),
	}
}

func ConRefOf(ref Ts) ConValue {
	return ConValue{
		Ref: &ref,
	}
}

func (self ConValue) String() string {
	if self.Ref != nil {
		return fmt.Sprintf("ref %s", *self.Ref)
	}
	return fmt.Sprintf("%v", self.Value)
}

type ObjEntry struct {
	Key string
	Id  Ts
}

type VecEntry struct {
	Index uint8
	Id    Ts
}

// a single patch operation.
// the concrete type determines the mutation, the id its place in time
type Op interface {
	OpId() Ts
	// number of logical clock ticks the op occupies
	Span() uint64
	// wire name, e.g. "ins_str"
	OpName() string
	Opcode() uint8
}

type NewConOp struct {
	Id  Ts
	Val ConValue
}

type NewValOp struct {
	Id Ts
}

type NewObjOp struct {
	Id Ts
}

type NewVecOp struct {
	Id Ts
}

type NewStrOp struct {
	Id Ts
}

type NewBinOp struct {
	Id Ts
}

type NewArrOp struct {
	Id Ts
}

type InsValOp struct {
	Id  Ts
	Obj Ts
	Val Ts
}

type InsObjOp struct {
	Id   Ts
	Obj  Ts
	Data []ObjEntry
}

type InsVecOp struct {
	Id   Ts
	Obj  Ts
	Data []VecEntry
}

type InsStrOp struct {
	Id    Ts
	Obj   Ts
	After Ts
	Data  string
}

type InsBinOp struct {
	Id    Ts
	Obj   Ts
	After Ts
	Data  []byte
}

type InsArrOp struct {
	Id    Ts
	Obj   Ts
	After Ts
	Data  []Ts
}

type UpdArrOp struct {
	Id  Ts
	Obj Ts
	Ref Ts
	Val Ts
}

type DelOp struct {
	Id   Ts
	Obj  Ts
	What []Tss
}

type NopOp struct {
	Id  Ts
	Len uint64
}

func (self *NewConOp) OpId() Ts { return self.Id }
func (self *NewValOp) OpId() Ts { return self.Id }
func (self *NewObjOp) OpId() Ts { return self.Id }
func (self *NewVecOp) OpId() Ts { return self.Id }
func (self *NewStrOp) OpId() Ts { return self.Id }
func (self *NewBinOp) OpId() Ts { return self.Id }
func (self *NewArrOp) OpId() Ts { return self.Id }
func (self *InsValOp) OpId() Ts { return self.Id }
func (self *InsObjOp) OpId() Ts { return self.Id }
func (self *InsVecOp) OpId() Ts { return self.Id }
func (self *InsStrOp) OpId() Ts { return self.Id }
func (self *InsBinOp) OpId() Ts { return self.Id }
func (self *InsArrOp) OpId() Ts { return self.Id }
func (self *UpdArrOp) OpId() Ts { return self.Id }
func (self *DelOp) OpId() Ts    { return self.Id }
func (self *NopOp) OpId() Ts    { return self.Id }

func (self *NewConOp) Span() uint64 { return 1 }
func (self *NewValOp) Span() uint64 { return 1 }
func (self *NewObjOp) Span() uint64 { return 1 }
func (self *NewVecOp) Span() uint64 { return 1 }
func (self *NewStrOp) Span() uint64 { return 1 }
func (self *NewBinOp) Span() uint64 { return 1 }
func (self *NewArrOp) Span() uint64 { return 1 }
func (self *InsValOp) Span() uint64 { return 1 }
func (self *InsObjOp) Span() uint64 { return 1 }
func (self *InsVecOp) Span() uint64 { return 1 }

// one tick per utf-16 code unit
func (self *InsStrOp) Span() uint64 { return utf16Len(self.Data) }

func (self *InsBinOp) Span() uint64 { return uint64(len(self.Data)) }
func (self *InsArrOp) Span() uint64 { return uint64(len(self.Data)) }
func (self *UpdArrOp) Span() uint64 { return 1 }
func (self *DelOp) Span() uint64    { return 1 }
func (self *NopOp) Span() uint64    { return self.Len }

func (self *NewConOp) OpName() string { return "new_con" }
func (self *NewValOp) OpName() string { return "new_val" }
func (self *NewObjOp) OpName() string { return "new_obj" }
func (self *NewVecOp) OpName() string { return "new_vec" }
func (self *NewStrOp) OpName() string { return "new_str" }
func (self *NewBinOp) OpName() string { return "new_bin" }
func (self *NewArrOp) OpName() string { return "new_arr" }
func (self *InsValOp) OpName() string { return "ins_val" }
func (self *InsObjOp) OpName() string { return "ins_obj" }
func (self *InsVecOp) OpName() string { return "ins_vec" }
func (self *InsStrOp) OpName() string { return "ins_str" }
func (self *InsBinOp) OpName() string { return "ins_bin" }
func (self *InsArrOp) OpName() string { return "ins_arr" }
func (self *UpdArrOp) OpName() string { return "upd_arr" }
func (self *DelOp) OpName() string    { return "del" }
func (self *NopOp) OpName() string    { return "nop" }

func (self *NewConOp) Opcode() uint8 { return OpcodeNewCon }
func (self *NewValOp) Opcode() uint8 { return OpcodeNewVal }
func (self *NewObjOp) Opcode() uint8 { return OpcodeNewObj }
func (self *NewVecOp) Opcode() uint8 { return OpcodeNewVec }
func (self *NewStrOp) Opcode() uint8 { return OpcodeNewStr }
func (self *NewBinOp) Opcode() uint8 { return OpcodeNewBin }
func (self *NewArrOp) Opcode() uint8 { return OpcodeNewArr }
func (self *InsValOp) Opcode() uint8 { return OpcodeInsVal }
func (self *InsObjOp) Opcode() uint8 { return OpcodeInsObj }
func (self *InsVecOp) Opcode() uint8 { return OpcodeInsVec }
func (self *InsStrOp) Opcode() uint8 { return OpcodeInsStr }
func (self *InsBinOp) Opcode() uint8 { return OpcodeInsBin }
func (self *InsArrOp) Opcode() uint8 { return OpcodeInsArr }
func (self *UpdArrOp) Opcode() uint8 { return OpcodeUpdArr }
func (self *DelOp) Opcode() uint8    { return OpcodeDel }
func (self *NopOp) Opcode() uint8    { return OpcodeNop }

func (self *NewConOp) String() string {
	return fmt.Sprintf("%s %s (%s)", self.OpName(), self.Id, self.Val)
}

func (self *InsStrOp) String() string {
	return fmt.Sprintf("%s %s obj=%s after=%s %q", self.OpName(), self.Id, self.Obj, self.After, self.Data)
}

func (self *DelOp) String() string {
	spans := []string{}
	for _, tss := range self.What {
		spans = append(spans, tss.String())
	}
	return fmt.Sprintf("%s %s obj=%s [%s]", self.OpName(), self.Id, self.Obj, strings.Join(spans, " "))
}

// number of utf-16 code units needed to encode s
func utf16Len(s string) uint64 {
	n := uint64(0)
	for _, r := range s {
		n += 1
		if 0xffff < r {
			n += 1
		}
	}
	return n
}
