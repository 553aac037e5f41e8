// Package variables implements the scoped variable/context store (C2):
// canonical-string encoding of the domain.Value union and get/set access
// scoped by instance, step, or global visibility.
package variables

import (
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

// Encode renders v as the canonical string stored by the Repository.
// Scalars encode as their literal string form; Array/Object encode as
// compact JSON built incrementally with sjson so callers never need to
// round-trip through encoding/json structs for partial updates.
func Encode(v domain.Value) (string, error) {
	switch v.Kind {
	case domain.KindNull, "":
		return "", nil
	case domain.KindBool:
		return strconv.FormatBool(v.Bool), nil
	case domain.KindInt, domain.KindLong:
		return strconv.FormatInt(v.Int, 10), nil
	case domain.KindDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64), nil
	case domain.KindString:
		return v.Str, nil
	case domain.KindDate:
		return v.Time.Format("2006-01-02"), nil
	case domain.KindDateTime:
		return v.Time.UTC().Format(time.RFC3339), nil
	case domain.KindArray:
		return encodeArray(v.Array)
	case domain.KindObject:
		return encodeObject(v.Object)
	default:
		return "", domain.NewError(domain.KindData, "unknown value kind %q", v.Kind)
	}
}

func encodeArray(items []domain.Value) (string, error) {
	doc := "[]"
	var err error
	for i, item := range items {
		var enc string
		enc, err = jsonFragment(item)
		if err != nil {
			return "", err
		}
		doc, err = sjson.SetRaw(doc, strconv.Itoa(i), enc)
		if err != nil {
			return "", domain.Wrap(domain.KindData, err, "encode array element %d", i)
		}
	}
	return doc, nil
}

func encodeObject(fields map[string]domain.Value) (string, error) {
	doc := "{}"
	var err error
	for k, item := range fields {
		var enc string
		enc, err = jsonFragment(item)
		if err != nil {
			return "", err
		}
		doc, err = sjson.SetRaw(doc, k, enc)
		if err != nil {
			return "", domain.Wrap(domain.KindData, err, "encode object field %q", k)
		}
	}
	return doc, nil
}

// jsonFragment renders a Value as a raw JSON fragment (for nesting inside
// sjson.SetRaw), as opposed to Encode's canonical top-level string form.
func jsonFragment(v domain.Value) (string, error) {
	switch v.Kind {
	case domain.KindNull, "":
		return "null", nil
	case domain.KindBool:
		return strconv.FormatBool(v.Bool), nil
	case domain.KindInt, domain.KindLong:
		return strconv.FormatInt(v.Int, 10), nil
	case domain.KindDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64), nil
	case domain.KindString:
		enc, err := sjson.Set("", "x", v.Str)
		if err != nil {
			return "", err
		}
		return gjson.Get(enc, "x").Raw, nil
	case domain.KindDate:
		return strconv.Quote(v.Time.Format("2006-01-02")), nil
	case domain.KindDateTime:
		return strconv.Quote(v.Time.UTC().Format(time.RFC3339)), nil
	case domain.KindArray:
		return encodeArray(v.Array)
	case domain.KindObject:
		return encodeObject(v.Object)
	default:
		return "", domain.NewError(domain.KindData, "unknown value kind %q", v.Kind)
	}
}

// Decode parses the canonical string s as a value of the declared type.
func Decode(s string, t domain.VariableType) (domain.Value, error) {
	switch t {
	case domain.VarString:
		return domain.NewString(s), nil
	case domain.VarInt:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return domain.Null, domain.Wrap(domain.KindData, err, "decode int %q", s)
		}
		return domain.NewInt(n), nil
	case domain.VarLong:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return domain.Null, domain.Wrap(domain.KindData, err, "decode long %q", s)
		}
		return domain.NewLong(n), nil
	case domain.VarDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Null, domain.Wrap(domain.KindData, err, "decode double %q", s)
		}
		return domain.NewDouble(f), nil
	case domain.VarBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return domain.Null, domain.Wrap(domain.KindData, err, "decode bool %q", s)
		}
		return domain.NewBool(b), nil
	case domain.VarDate:
		tm, err := time.Parse("2006-01-02", s)
		if err != nil {
			return domain.Null, domain.Wrap(domain.KindData, err, "decode date %q", s)
		}
		return domain.NewDate(tm), nil
	case domain.VarDateTime:
		tm, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return domain.Null, domain.Wrap(domain.KindData, err, "decode datetime %q", s)
		}
		return domain.NewDateTime(tm), nil
	case domain.VarArray, domain.VarJSON:
		return decodeJSON(s)
	case domain.VarObject:
		return decodeJSON(s)
	default:
		return domain.Null, domain.NewError(domain.KindData, "unknown variable type %q", t)
	}
}

func decodeJSON(s string) (domain.Value, error) {
	if s == "" {
		return domain.Null, nil
	}
	res := gjson.Parse(s)
	return fromGJSON(res), nil
}

func fromGJSON(r gjson.Result) domain.Value {
	switch r.Type {
	case gjson.Null:
		return domain.Null
	case gjson.True, gjson.False:
		return domain.NewBool(r.Bool())
	case gjson.Number:
		if r.Num == float64(int64(r.Num)) {
			return domain.NewLong(int64(r.Num))
		}
		return domain.NewDouble(r.Num)
	case gjson.String:
		return domain.NewString(r.Str)
	case gjson.JSON:
		if r.IsArray() {
			var items []domain.Value
			r.ForEach(func(_, v gjson.Result) bool {
				items = append(items, fromGJSON(v))
				return true
			})
			return domain.NewArray(items)
		}
		fields := make(map[string]domain.Value)
		r.ForEach(func(k, v gjson.Result) bool {
			fields[k.Str] = fromGJSON(v)
			return true
		})
		return domain.NewObject(fields)
	default:
		return domain.Null
	}
}

// KindToVariableType maps a domain.ValueKind to the VariableType used when
// persisting a freshly computed Value (e.g. step outputData).
func KindToVariableType(k domain.ValueKind) domain.VariableType {
	switch k {
	case domain.KindBool:
		return domain.VarBool
	case domain.KindInt:
		return domain.VarInt
	case domain.KindLong:
		return domain.VarLong
	case domain.KindDouble:
		return domain.VarDouble
	case domain.KindDate:
		return domain.VarDate
	case domain.KindDateTime:
		return domain.VarDateTime
	case domain.KindArray:
		return domain.VarArray
	case domain.KindObject:
		return domain.VarObject
	default:
		return domain.VarString
	}
}
