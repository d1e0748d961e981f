package jsoncrdt

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func buildModel(t *testing.T, sid uint64, value any) *Model {
	model := NewModel(sid)
	b := model.Builder()
	b.Root(b.BuildJSON(value))
	patch, err := b.Flush()
	assert.Equal(t, err, nil)
	model.Apply(patch)
	return model
}

func applyDiff(t *testing.T, model *Model, dst any) *Patch {
	patch, err := model.Diff(dst)
	assert.Equal(t, err, nil)
	model.Apply(patch)
	return patch
}

func TestDiffNoChange(t *testing.T) {
	model := buildModel(t, 10, map[string]any{"a": 1})
	patch, err := model.Diff(map[string]any{"a": 1})
	assert.Equal(t, err, nil)
	assert.Equal(t, 0, len(patch.Ops))
}

func TestDiffObjAddKey(t *testing.T) {
	model := buildModel(t, 10, map[string]any{"a": 1})
	patch := applyDiff(t, model, map[string]any{"a": 1, "b": 2})
	assert.Equal(t, map[string]any{"a": int64(1), "b": int64(2)}, model.View())

	// one new constant plus a single key write
	assert.Equal(t, 2, len(patch.Ops))
	_, ok := patch.Ops[0].(*NewConOp)
	assert.Equal(t, true, ok)
	ins, ok := patch.Ops[1].(*InsObjOp)
	assert.Equal(t, true, ok)
	assert.Equal(t, 1, len(ins.Data))
	assert.Equal(t, "b", ins.Data[0].Key)
}

func TestDiffObjRemoveKey(t *testing.T) {
	model := buildModel(t, 10, map[string]any{"a": 1, "b": 2})
	applyDiff(t, model, map[string]any{"a": 1})
	assert.Equal(t, map[string]any{"a": int64(1)}, model.View())
}

func TestDiffObjNested(t *testing.T) {
	model := buildModel(t, 10, map[string]any{
		"user": map[string]any{"name": "ann", "age": 30},
		"keep": "same",
	})
	applyDiff(t, model, map[string]any{
		"user": map[string]any{"name": "bea", "age": 30},
		"keep": "same",
	})
	assert.Equal(t, map[string]any{
		"user": map[string]any{"name": "bea", "age": int64(30)},
		"keep": "same",
	}, model.View())
}

func TestDiffStrInsert(t *testing.T) {
	model := buildModel(t, 10, "hello world")
	patch := applyDiff(t, model, "hello brave world")
	assert.Equal(t, "hello brave world", model.View())

	// a pure insert in the middle is a single op
	assert.Equal(t, 1, len(patch.Ops))
	ins, ok := patch.Ops[0].(*InsStrOp)
	assert.Equal(t, true, ok)
	assert.Equal(t, "brave ", ins.Data)
}

func TestDiffStrReplace(t *testing.T) {
	model := buildModel(t, 10, "hello")
	patch := applyDiff(t, model, "hXllo")
	assert.Equal(t, "hXllo", model.View())
	assert.Equal(t, 2, len(patch.Ops))
	_, ok := patch.Ops[0].(*InsStrOp)
	assert.Equal(t, true, ok)
	_, ok = patch.Ops[1].(*DelOp)
	assert.Equal(t, true, ok)
}

func TestDiffStrDelete(t *testing.T) {
	model := buildModel(t, 10, "hello world")
	patch := applyDiff(t, model, "held")
	assert.Equal(t, "held", model.View())
	// the removed middle coalesces into one delete
	assert.Equal(t, 1, len(patch.Ops))
	del, ok := patch.Ops[0].(*DelOp)
	assert.Equal(t, true, ok)
	assert.Equal(t, 1, len(del.What))
	assert.Equal(t, uint64(7), del.What[0].Span)
}

func TestDiffStrClear(t *testing.T) {
	model := buildModel(t, 10, "abc")
	applyDiff(t, model, "")
	assert.Equal(t, "", model.View())
}

func TestDiffBin(t *testing.T) {
	model := buildModel(t, 10, map[string]any{"data": []byte{1, 2, 3, 4}})
	applyDiff(t, model, map[string]any{"data": []byte{1, 9, 9, 3, 4}})
	assert.Equal(t, map[string]any{"data": []byte{1, 9, 9, 3, 4}}, model.View())
}

func TestDiffArrScalarElement(t *testing.T) {
	model := buildModel(t, 10, []any{1, 2, 3})
	patch := applyDiff(t, model, []any{1, 5, 3})
	assert.Equal(t, []any{int64(1), int64(5), int64(3)}, model.View())

	// the element register is rewritten in place, no rga churn
	assert.Equal(t, 2, len(patch.Ops))
	_, ok := patch.Ops[1].(*InsValOp)
	assert.Equal(t, true, ok)
}

func TestDiffArrGrow(t *testing.T) {
	model := buildModel(t, 10, []any{1, 2})
	applyDiff(t, model, []any{1, 2, 3})
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, model.View())
}

func TestDiffArrShrink(t *testing.T) {
	model := buildModel(t, 10, []any{"a", "b", "c"})
	applyDiff(t, model, []any{"a", "c"})
	assert.Equal(t, []any{"a", "c"}, model.View())
}

func TestDiffArrNestedString(t *testing.T) {
	model := buildModel(t, 10, []any{"aa", "bb"})
	applyDiff(t, model, []any{"aa", "bx"})
	assert.Equal(t, []any{"aa", "bx"}, model.View())
}

func TestDiffRootReplace(t *testing.T) {
	// shape changes rebuild the subtree and move the root
	model := buildModel(t, 10, map[string]any{"a": 1})
	applyDiff(t, model, []any{1, 2})
	assert.Equal(t, []any{int64(1), int64(2)}, model.View())
}

func TestDiffEmptyModel(t *testing.T) {
	model := NewModel(10)
	applyDiff(t, model, map[string]any{"a": 1})
	assert.Equal(t, map[string]any{"a": int64(1)}, model.View())
}

func TestDiffDoesNotApply(t *testing.T) {
	model := buildModel(t, 10, map[string]any{"a": 1})
	_, err := model.Diff(map[string]any{"a": 2})
	assert.Equal(t, err, nil)
	assert.Equal(t, map[string]any{"a": int64(1)}, model.View())
}

func TestDiffDstKeys(t *testing.T) {
	model := buildModel(t, 10, map[string]any{"a": 1, "b": 2})
	patch, err := model.DiffDstKeys(map[string]any{"b": 3})
	assert.Equal(t, err, nil)
	model.Apply(patch)
	// keys not named keep their value
	assert.Equal(t, map[string]any{"a": int64(1), "b": int64(3)}, model.View())
}

func TestDiffPatchShipsToReplica(t *testing.T) {
	model := buildModel(t, 100, map[string]any{"text": "hello"})
	replica := NewModel(200)
	// bring the replica up to date with a diff from an empty model
	full, err := NewModel(100).Diff(model.View())
	assert.Equal(t, err, nil)
	replica.Apply(full)
	assert.Equal(t, model.View(), replica.View())

	patch, err := replica.Diff(map[string]any{"text": "hello!"})
	assert.Equal(t, err, nil)
	replica.Apply(patch)
	assert.Equal(t, map[string]any{"text": "hello!"}, replica.View())
}

func TestDiffSuccessiveEdits(t *testing.T) {
	model := NewModel(10)
	views := []any{
		map[string]any{"doc": ""},
		map[string]any{"doc": "h"},
		map[string]any{"doc": "hello"},
		map[string]any{"doc": "hello world", "saved": false},
		map[string]any{"doc": "hello brave world", "saved": true},
		map[string]any{"doc": "goodbye", "saved": true},
	}
	for _, dst := range views {
		applyDiff(t, model, dst)
		normalized, err := normalizeValue(dst)
		assert.Equal(t, err, nil)
		assert.Equal(t, normalized, model.View())
	}
}
