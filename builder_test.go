package jsoncrdt

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestBuilderContiguousIds(t *testing.T) {
	model := NewModel(10)
	b := model.Builder()

	conId := b.Con(42)
	assert.Equal(t, Ts{Sid: 10, Time: 1}, conId)
	strId := b.Str()
	assert.Equal(t, Ts{Sid: 10, Time: 2}, strId)
	insId := b.InsStr(strId, strId, "hi")
	assert.Equal(t, Ts{Sid: 10, Time: 3}, insId)
	// the two character insert occupies two ticks
	nextId := b.Con(7)
	assert.Equal(t, Ts{Sid: 10, Time: 5}, nextId)

	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	assert.Equal(t, nil, b.Err())
	assert.Equal(t, 4, len(patch.Ops))
	assert.Equal(t, uint64(5), patch.Span())
	assert.Equal(t, uint64(6), patch.NextTime())

	// flush starts a fresh patch on the same clock
	moreId := b.Con(1)
	assert.Equal(t, Ts{Sid: 10, Time: 6}, moreId)
	more, err := b.Flush()
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(more.Ops))
}

func TestBuilderNopPadding(t *testing.T) {
	model := NewModel(10)
	b := model.Builder()

	b.Con(1)
	// the clock moves ahead between ops, e.g. another builder ticked it
	_, err := model.Clock().Tick(3)
	assert.Equal(t, err, nil)
	b.Con(2)

	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	assert.Equal(t, 3, len(patch.Ops))
	nop, ok := patch.Ops[1].(*NopOp)
	assert.Equal(t, true, ok)
	assert.Equal(t, Ts{Sid: 10, Time: 2}, nop.Id)
	assert.Equal(t, uint64(3), nop.Len)
	assert.Equal(t, Ts{Sid: 10, Time: 5}, patch.Ops[2].OpId())
	// ids stay contiguous across the gap
	assert.Equal(t, uint64(5), patch.Span())
}

func TestBuilderDropsEmptyInserts(t *testing.T) {
	model := NewModel(10)
	b := model.Builder()

	strId := b.Str()
	assert.Equal(t, Ts{}, b.InsStr(strId, strId, ""))
	binId := b.Bin()
	assert.Equal(t, Ts{}, b.InsBin(binId, binId, []byte{}))
	arrId := b.Arr()
	assert.Equal(t, Ts{}, b.InsArr(arrId, arrId, []Ts{}))
	objId := b.Obj()
	assert.Equal(t, Ts{}, b.InsObj(objId, []ObjEntry{}))
	vecId := b.Vec()
	assert.Equal(t, Ts{}, b.InsVec(vecId, []VecEntry{}))
	assert.Equal(t, Ts{}, b.Del(strId, []Tss{}))

	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	assert.Equal(t, 5, len(patch.Ops))
	for _, op := range patch.Ops {
		assert.Equal(t, uint64(1), op.Span())
	}
}

func TestBuilderOverflowIsSticky(t *testing.T) {
	b := NewPatchBuilder(NewClockVector(10, maxUint64-1))
	b.Con(1)
	b.Con(2)
	assert.Equal(t, b.Err(), ErrClockOverflow)
	_, err := b.Flush()
	assert.Equal(t, err, ErrClockOverflow)
}

func TestBuilderBuildJSON(t *testing.T) {
	model := NewModel(10)
	b := model.Builder()
	rootId := b.BuildJSON(map[string]any{
		"title": "hello",
		"count": 3,
		"done":  true,
		"tags":  []any{"a", 2, nil},
		"attachment": map[string]any{
			"data": []byte{1, 2, 3},
		},
	})
	b.Root(rootId)
	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	model.Apply(patch)

	assert.Equal(t, map[string]any{
		"title": "hello",
		"count": int64(3),
		"done":  true,
		"tags":  []any{"a", int64(2), nil},
		"attachment": map[string]any{
			"data": []byte{1, 2, 3},
		},
	}, model.View())
}

func TestBuilderBuildJSONScalarRoot(t *testing.T) {
	model := NewModel(10)
	b := model.Builder()
	b.Root(b.BuildJSON(42))
	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	model.Apply(patch)
	assert.Equal(t, int64(42), model.View())
}

func TestBuilderArrayElementsStayEditable(t *testing.T) {
	// scalar array elements are wrapped in val registers, so a later
	// ins_val can replace them without touching the rga
	model := NewModel(10)
	b := model.Builder()
	arrId := b.BuildJSON([]any{1, 2})
	b.Root(arrId)
	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	model.Apply(patch)
	assert.Equal(t, []any{int64(1), int64(2)}, model.View())

	arrNode := model.Node(arrId).(*ArrNode)
	values := arrNode.Values()
	assert.Equal(t, 2, len(values))
	_, ok := model.Node(values[0]).(*ValNode)
	assert.Equal(t, true, ok)

	b2 := model.Builder()
	conId := b2.Con(9)
	b2.SetVal(values[1], conId)
	patch2, err := b2.Flush()
	assert.Equal(t, err, nil)
	model.Apply(patch2)
	assert.Equal(t, []any{int64(1), int64(9)}, model.View())
}
