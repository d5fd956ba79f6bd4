package itemdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

type encodingMethod int

const (
	MsgPack encodingMethod = iota
	JSON
)

func (enc encodingMethod) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("encodingMethod(%d)", int(enc))
	}
}

func (enc encodingMethod) EncodeValue(buf []byte, objVal reflect.Value) []byte {
	switch enc {
	case MsgPack:
		bb := bytesBuilder{buf}
		enc := msgpack.GetEncoder()
		enc.ResetDict(&bb, nil)
		enc.SetSortMapKeys(true)
		err := enc.EncodeValue(objVal)
		msgpack.PutEncoder(enc)
		if err != nil {
			panic(fmt.Errorf("failed to encode %T using MsgPack: %w", objVal.Interface(), err))
		}
		return bb.Buf
	case JSON:
		raw, err := json.Marshal(objVal.Interface())
		if err != nil {
			panic(fmt.Errorf("failed to encode %T to JSON: %w", objVal.Interface(), err))
		}
		return append(buf, raw...)
	default:
		panic("unsupported encoding")
	}
}

func (enc encodingMethod) DecodeValue(buf []byte, objPtrVal reflect.Value) error {
	switch enc {
	case MsgPack:
		var r bytes.Reader
		r.Reset(buf)
		dec := msgpack.GetDecoder()
		dec.ResetDict(&r, nil)
		err := dec.DecodeValue(objPtrVal)
		msgpack.PutDecoder(dec)
		if err != nil {
			return dataErrf(buf, 0, err, "failed to decode msgpack into %v", objPtrVal.Type())
		}
		return nil
	case JSON:
		err := json.Unmarshal(buf, objPtrVal.Interface())
		if err != nil {
			return dataErrf(buf, 0, err, "failed to decode JSON into %v", objPtrVal.Type())
		}
		return nil
	default:
		panic("unsupported encoding")
	}
}

// EncodeAny appends the encoding of an attribute value or a record struct.
func (enc encodingMethod) EncodeAny(buf []byte, v any) []byte {
	return enc.EncodeValue(buf, reflect.ValueOf(&v).Elem())
}

// DecodeAny decodes a value written by EncodeAny and normalizes it to the
// canonical attribute value types.
func (enc encodingMethod) DecodeAny(buf []byte) (any, error) {
	var v any
	if err := enc.DecodeValue(buf, reflect.ValueOf(&v)); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	n, err := normalizeValue(v)
	if err != nil {
		return nil, dataErrf(buf, 0, err, "decoded value")
	}
	return n, nil
}

func encodeRecord[T any](buf []byte, rec *T) []byte {
	return MsgPack.EncodeValue(buf, reflect.ValueOf(rec).Elem())
}

func decodeRecord[T any](buf []byte) (*T, error) {
	rec := new(T)
	if err := MsgPack.DecodeValue(buf, reflect.ValueOf(rec)); err != nil {
		return nil, err
	}
	return rec, nil
}
