package jsoncrdt

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPatchSpanAndNextTime(t *testing.T) {
	patch := NewPatch()
	_, ok := patch.GetId()
	assert.Equal(t, false, ok)
	assert.Equal(t, uint64(0), patch.Span())
	assert.Equal(t, uint64(0), patch.NextTime())

	patch.Ops = append(patch.Ops,
		&NewStrOp{Id: Ts{Sid: 5, Time: 10}},
		&InsStrOp{Id: Ts{Sid: 5, Time: 11}, Obj: Ts{Sid: 5, Time: 10}, After: Ts{Sid: 5, Time: 10}, Data: "abc"},
		&DelOp{Id: Ts{Sid: 5, Time: 14}, Obj: Ts{Sid: 5, Time: 10}, What: []Tss{{Sid: 5, Time: 11, Span: 2}}},
	)
	id, ok := patch.GetId()
	assert.Equal(t, true, ok)
	assert.Equal(t, Ts{Sid: 5, Time: 10}, id)
	assert.Equal(t, uint64(5), patch.Span())
	assert.Equal(t, uint64(15), patch.NextTime())
}

func TestPatchSpanUtf16(t *testing.T) {
	op := &InsStrOp{Id: Ts{Sid: 5, Time: 1}, Data: "A\U0001f600B"}
	assert.Equal(t, uint64(4), op.Span())
	assert.Equal(t, uint64(4), utf16Len("A\U0001f600B"))
	assert.Equal(t, uint64(5), utf16Len("hello"))
}

func TestPatchRebase(t *testing.T) {
	patch := NewPatch()
	patch.Ops = append(patch.Ops,
		&NewStrOp{Id: Ts{Sid: 5, Time: 10}},
		// obj and after reference a foreign session and must not move
		&InsStrOp{Id: Ts{Sid: 5, Time: 11}, Obj: Ts{Sid: 9, Time: 100}, After: Ts{Sid: 9, Time: 104}, Data: "abc"},
	)

	out, err := patch.Rebase(20, 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, Ts{Sid: 5, Time: 20}, out.Ops[0].OpId())
	assert.Equal(t, Ts{Sid: 5, Time: 21}, out.Ops[1].OpId())
	ins := out.Ops[1].(*InsStrOp)
	assert.Equal(t, Ts{Sid: 9, Time: 100}, ins.Obj)
	assert.Equal(t, Ts{Sid: 9, Time: 104}, ins.After)

	// ids before the transform horizon stay in place
	patch2 := NewPatch()
	patch2.Ops = append(patch2.Ops,
		&NewStrOp{Id: Ts{Sid: 5, Time: 10}},
		&InsStrOp{Id: Ts{Sid: 5, Time: 11}, Obj: Ts{Sid: 5, Time: 3}, After: Ts{Sid: 5, Time: 3}, Data: "x"},
	)
	out2, err := patch2.Rebase(30, 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, Ts{Sid: 5, Time: 30}, out2.Ops[0].OpId())
	ins2 := out2.Ops[1].(*InsStrOp)
	assert.Equal(t, Ts{Sid: 5, Time: 31}, ins2.Id)
	assert.Equal(t, Ts{Sid: 5, Time: 3}, ins2.Obj)

	// rebasing onto the same start time is a clone
	same, err := patch.Rebase(10, 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, Ts{Sid: 5, Time: 10}, same.Ops[0].OpId())

	empty := NewPatch()
	_, err = empty.Rebase(20, 10)
	assert.Equal(t, err, ErrEmptyPatch)
}

func TestPatchRewriteTimeIsDeep(t *testing.T) {
	patch := NewPatch()
	patch.Ops = append(patch.Ops,
		&InsBinOp{Id: Ts{Sid: 5, Time: 1}, Obj: Ts{Sid: 5, Time: 0}, After: Ts{Sid: 5, Time: 0}, Data: []byte{1, 2, 3}},
	)
	out := patch.RewriteTime(func(id Ts) Ts {
		return id.Step(100)
	})
	assert.Equal(t, Ts{Sid: 5, Time: 101}, out.Ops[0].OpId())
	// mutating the copy leaves the original untouched
	out.Ops[0].(*InsBinOp).Data[0] = 99
	assert.Equal(t, byte(1), patch.Ops[0].(*InsBinOp).Data[0])
}

func TestPatchRewriteConRef(t *testing.T) {
	ref := Ts{Sid: 5, Time: 3}
	patch := NewPatch()
	patch.Ops = append(patch.Ops, &NewConOp{Id: Ts{Sid: 5, Time: 10}, Val: ConRefOf(ref)})
	out := patch.RewriteTime(func(id Ts) Ts {
		return id.Step(1)
	})
	op := out.Ops[0].(*NewConOp)
	assert.Equal(t, Ts{Sid: 5, Time: 11}, op.Id)
	assert.Equal(t, Ts{Sid: 5, Time: 4}, *op.Val.Ref)
}
