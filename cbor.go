package jsoncrdt

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

var ErrInvalidCbor = errors.New("invalid cbor data")

// the cbor simple value `undefined` (0xf7).
// a con node holding Undef is an erased value, distinct from null
type Undefined struct{}

var Undef = Undefined{}

const cborUndefined = byte(0xf7)

var cborEncMode cbor.EncMode
var cborDecMode cbor.DecMode

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encMode, err := encOpts.EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = encMode
	decMode, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	cborDecMode = decMode
}

// appends one cbor item. values must already be normalized
func writeCbor(w *binaryWriter, value any) error {
	if _, ok := value.(Undefined); ok {
		w.WriteU8(cborUndefined)
		return nil
	}
	b, err := cborEncMode.Marshal(value)
	if err != nil {
		return err
	}
	w.Write(b)
	return nil
}

// reads one cbor item from the reader's current position
func readCbor(r *binaryReader) (any, error) {
	b, err := r.PeekU8()
	if err != nil {
		return nil, err
	}
	if b == cborUndefined {
		r.pos += 1
		return Undef, nil
	}
	dec := cborDecMode.NewDecoder(bytes.NewReader(r.Rest()))
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Join(ErrInvalidCbor, err)
	}
	if err := r.Skip(dec.NumBytesRead()); err != nil {
		return nil, err
	}
	return normalizeValue(raw)
}

// reads a cbor item and requires a text string
func readCborString(r *binaryReader) (string, error) {
	value, err := readCbor(r)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", ErrInvalidCbor
	}
	return s, nil
}

// reads a cbor item and requires an unsigned integer
func readCborUint(r *binaryReader) (uint64, error) {
	value, err := readCbor(r)
	if err != nil {
		return 0, err
	}
	switch v := value.(type) {
	case int64:
		if v < 0 {
			return 0, ErrInvalidCbor
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	default:
		return 0, ErrInvalidCbor
	}
}

// collapses decoder specific types into the canonical in memory forms:
// nil, bool, int64 (uint64 above the int64 range), float64, string,
// []byte, []any, map[string]any and Undefined
func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, int64, float64, string, Undefined:
		return v, nil
	case uint64:
		if v <= math.MaxInt64 {
			return int64(v), nil
		}
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return normalizeValue(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case []byte:
		return v, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			n, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case map[string]any:
		out := map[string]any{}
		for key, item := range v {
			n, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	case map[any]any:
		out := map[string]any{}
		for key, item := range v {
			s, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("non-string map key %v", key)
			}
			n, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			out[s] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}
}

// like normalizeValue but panics. for values built in code, not wire input
func requireNormalValue(value any) any {
	n, err := normalizeValue(value)
	if err != nil {
		panic(err)
	}
	return n
}
