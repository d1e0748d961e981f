package jsoncrdt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPatch = errors.New("invalid patch data")

// verbose json codec. a self describing object with one json object
// per operation, meant for debugging and interop fixtures.
// ids are a plain number for the shared server session, [sid, time]
// otherwise

func EncodeVerbose(patch *Patch) ([]byte, error) {
	id, ok := patch.GetId()
	if !ok {
		return nil, ErrEmptyPatch
	}
	doc := map[string]any{
		"id": encodeVerboseId(id),
	}
	if patch.Meta != nil {
		doc["meta"] = jsonSafeValue(patch.Meta)
	}
	ops := []any{}
	for _, op := range patch.Ops {
		ops = append(ops, encodeVerboseOp(op))
	}
	doc["ops"] = ops
	return json.Marshal(doc)
}

func encodeVerboseId(id Ts) any {
	if id.Sid == SessionServer {
		return id.Time
	}
	return []any{id.Sid, id.Time}
}

func encodeVerboseOp(op Op) map[string]any {
	out := map[string]any{
		"op": op.OpName(),
	}
	switch o := op.(type) {
	case *NewConOp:
		if o.Val.Ref != nil {
			out["value"] = encodeVerboseId(*o.Val.Ref)
			out["timestamp"] = true
		} else if _, undef := o.Val.Value.(Undefined); !undef {
			out["value"] = jsonSafeValue(o.Val.Value)
		}
	case *InsValOp:
		out["obj"] = encodeVerboseId(o.Obj)
		out["value"] = encodeVerboseId(o.Val)
	case *InsObjOp:
		out["obj"] = encodeVerboseId(o.Obj)
		pairs := []any{}
		for _, entry := range o.Data {
			pairs = append(pairs, []any{entry.Key, encodeVerboseId(entry.Id)})
		}
		out["value"] = pairs
	case *InsVecOp:
		out["obj"] = encodeVerboseId(o.Obj)
		pairs := []any{}
		for _, entry := range o.Data {
			pairs = append(pairs, []any{entry.Index, encodeVerboseId(entry.Id)})
		}
		out["value"] = pairs
	case *InsStrOp:
		out["obj"] = encodeVerboseId(o.Obj)
		out["after"] = encodeVerboseId(o.After)
		out["value"] = o.Data
	case *InsBinOp:
		out["obj"] = encodeVerboseId(o.Obj)
		out["after"] = encodeVerboseId(o.After)
		out["value"] = base64.StdEncoding.EncodeToString(o.Data)
	case *InsArrOp:
		out["obj"] = encodeVerboseId(o.Obj)
		out["after"] = encodeVerboseId(o.After)
		values := []any{}
		for _, id := range o.Data {
			values = append(values, encodeVerboseId(id))
		}
		out["values"] = values
	case *UpdArrOp:
		out["obj"] = encodeVerboseId(o.Obj)
		out["ref"] = encodeVerboseId(o.Ref)
		out["value"] = encodeVerboseId(o.Val)
	case *DelOp:
		out["obj"] = encodeVerboseId(o.Obj)
		what := []any{}
		for _, tss := range o.What {
			what = append(what, []any{tss.Sid, tss.Time, tss.Span})
		}
		out["what"] = what
	case *NopOp:
		out["len"] = o.Len
	}
	return out
}

func DecodeVerbose(data []byte) (*Patch, error) {
	doc, err := decodeJSONValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, ErrInvalidPatch
	}
	idValue, ok := obj["id"]
	if !ok {
		return nil, ErrInvalidPatch
	}
	builder, err := verboseHeaderBuilder(idValue)
	if err != nil {
		return nil, err
	}
	opsValue, _ := obj["ops"].([]any)
	for _, opValue := range opsValue {
		opObj, ok := opValue.(map[string]any)
		if !ok {
			continue
		}
		name, ok := opObj["op"].(string)
		if !ok {
			continue
		}
		decodeVerboseOp(builder, name, opObj)
	}
	patch, err := builder.Flush()
	if err != nil {
		return nil, err
	}
	if meta, ok := obj["meta"]; ok {
		patch.Meta = meta
	}
	return patch, nil
}

func verboseHeaderBuilder(idValue any) (*PatchBuilder, error) {
	switch v := idValue.(type) {
	case int64, float64:
		time, _ := asUint(v)
		return NewPatchBuilder(NewServerClockVector(time)), nil
	case []any:
		if len(v) < 2 {
			return nil, ErrInvalidPatch
		}
		sid, _ := asUint(v[0])
		time, _ := asUint(v[1])
		return NewPatchBuilder(NewClockVector(sid, time)), nil
	default:
		return nil, ErrInvalidPatch
	}
}

// verbose ids: a number is the shared server session
func decodeVerboseId(value any) Ts {
	switch v := value.(type) {
	case []any:
		if 2 <= len(v) {
			sid, _ := asUint(v[0])
			time, _ := asUint(v[1])
			return Ts{Sid: sid, Time: time}
		}
		return Ts{Sid: SessionServer}
	default:
		time, _ := asUint(v)
		return Ts{Sid: SessionServer, Time: time}
	}
}

func decodeVerboseOp(builder *PatchBuilder, name string, op map[string]any) {
	switch name {
	case "new_con":
		if isTrue(op["timestamp"]) {
			builder.ConRef(decodeVerboseId(op["value"]))
		} else if value, ok := op["value"]; ok {
			builder.Con(value)
		} else {
			builder.Con(Undef)
		}
	case "new_val":
		builder.Val()
	case "new_obj":
		builder.Obj()
	case "new_vec":
		builder.Vec()
	case "new_str":
		builder.Str()
	case "new_bin":
		builder.Bin()
	case "new_arr":
		builder.Arr()
	case "ins_val":
		builder.SetVal(decodeVerboseId(op["obj"]), decodeVerboseId(op["value"]))
	case "ins_obj":
		obj := decodeVerboseId(op["obj"])
		data := []ObjEntry{}
		if pairs, ok := op["value"].([]any); ok {
			for _, pairValue := range pairs {
				pair, ok := pairValue.([]any)
				if !ok || len(pair) < 2 {
					continue
				}
				key, ok := pair[0].(string)
				if !ok {
					continue
				}
				data = append(data, ObjEntry{Key: key, Id: decodeVerboseId(pair[1])})
			}
		}
		builder.InsObj(obj, data)
	case "ins_vec":
		obj := decodeVerboseId(op["obj"])
		data := []VecEntry{}
		if pairs, ok := op["value"].([]any); ok {
			for _, pairValue := range pairs {
				pair, ok := pairValue.([]any)
				if !ok || len(pair) < 2 {
					continue
				}
				index, ok := asUint(pair[0])
				if !ok {
					continue
				}
				data = append(data, VecEntry{Index: uint8(index), Id: decodeVerboseId(pair[1])})
			}
		}
		builder.InsVec(obj, data)
	case "ins_str":
		obj := decodeVerboseId(op["obj"])
		after := obj
		if afterValue, ok := op["after"]; ok {
			after = decodeVerboseId(afterValue)
		}
		s, _ := op["value"].(string)
		builder.InsStr(obj, after, s)
	case "ins_bin":
		obj := decodeVerboseId(op["obj"])
		after := obj
		if afterValue, ok := op["after"]; ok {
			after = decodeVerboseId(afterValue)
		}
		b64, _ := op["value"].(string)
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			data = nil
		}
		builder.InsBin(obj, after, data)
	case "ins_arr":
		obj := decodeVerboseId(op["obj"])
		after := obj
		if afterValue, ok := op["after"]; ok {
			after = decodeVerboseId(afterValue)
		}
		data := []Ts{}
		if values, ok := op["values"].([]any); ok {
			for _, value := range values {
				data = append(data, decodeVerboseId(value))
			}
		}
		builder.InsArr(obj, after, data)
	case "upd_arr":
		builder.UpdArr(
			decodeVerboseId(op["obj"]),
			decodeVerboseId(op["ref"]),
			decodeVerboseId(op["value"]),
		)
	case "del":
		obj := decodeVerboseId(op["obj"])
		what := []Tss{}
		if spans, ok := op["what"].([]any); ok {
			for _, spanValue := range spans {
				span, ok := spanValue.([]any)
				if !ok || len(span) < 3 {
					continue
				}
				sid, ok1 := asUint(span[0])
				time, ok2 := asUint(span[1])
				length, ok3 := asUint(span[2])
				if !ok1 || !ok2 || !ok3 {
					continue
				}
				what = append(what, Tss{Sid: sid, Time: time, Span: length})
			}
		}
		builder.Del(obj, what)
	case "nop":
		length := uint64(1)
		if lenValue, ok := op["len"]; ok {
			if n, ok := asUint(lenValue); ok {
				length = n
			}
		}
		builder.Nop(length)
	}
}

// parses json keeping integers exact
func decodeJSONValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Join(ErrInvalidPatch, err)
	}
	return jsonNormalize(raw)
}

func jsonNormalize(value any) (any, error) {
	switch v := value.(type) {
	case json.Number:
		s := v.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := v.Int64(); err == nil {
				return n, nil
			}
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("bad number %q", s)
		}
		return f, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			n, err := jsonNormalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case map[string]any:
		out := map[string]any{}
		for key, item := range v {
			n, err := jsonNormalize(item)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// a value safe to hand to encoding/json. bytes become std base64
func jsonSafeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	case Undefined:
		return nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, jsonSafeValue(item))
		}
		return out
	case map[string]any:
		out := map[string]any{}
		for key, item := range v {
			out[key] = jsonSafeValue(item)
		}
		return out
	default:
		return v
	}
}

func asUint(value any) (uint64, bool) {
	switch v := value.(type) {
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case uint64:
		return v, true
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil || n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func isTrue(value any) bool {
	b, ok := value.(bool)
	return ok && b
}
