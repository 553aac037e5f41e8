package variables

import (
	"testing"
	"time"

	"github.com/orcheo-io/workflow-engine/internal/domain"
)

func TestEncodeDecodeScalarRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    domain.Value
		typ  domain.VariableType
	}{
		{"bool", domain.NewBool(true), domain.VarBool},
		{"int", domain.NewInt(42), domain.VarInt},
		{"long", domain.NewLong(9000000000), domain.VarLong},
		{"double", domain.NewDouble(3.5), domain.VarDouble},
		{"string", domain.NewString("hello"), domain.VarString},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			enc, err := Encode(c.v)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			dec, err := Decode(enc, c.typ)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if dec.Kind != c.v.Kind {
				t.Errorf("kind mismatch: got %s, want %s", dec.Kind, c.v.Kind)
			}
		})
	}
}

func TestEncodeDecodeDateTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	v := domain.NewDateTime(now)

	enc, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc, domain.VarDateTime)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !dec.Time.Equal(now) {
		t.Errorf("round-tripped time = %v, want %v", dec.Time, now)
	}
}

func TestEncodeDecodeObjectRoundTrip(t *testing.T) {
	v := domain.NewObject(map[string]domain.Value{
		"name":  domain.NewString("ada"),
		"count": domain.NewLong(7),
		"nested": domain.NewObject(map[string]domain.Value{
			"flag": domain.NewBool(false),
		}),
	})

	enc, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc, domain.VarObject)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Kind != domain.KindObject {
		t.Fatalf("kind = %s, want object", dec.Kind)
	}
	if dec.Object["name"].Str != "ada" {
		t.Errorf("name = %q, want ada", dec.Object["name"].Str)
	}
	if dec.Object["count"].Int != 7 {
		t.Errorf("count = %d, want 7", dec.Object["count"].Int)
	}
	if dec.Object["nested"].Object["flag"].Bool != false {
		t.Error("nested.flag should be false")
	}
}

func TestEncodeDecodeArrayRoundTrip(t *testing.T) {
	v := domain.NewArray([]domain.Value{
		domain.NewLong(1),
		domain.NewString("two"),
		domain.NewBool(true),
	})

	enc, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := Decode(enc, domain.VarArray)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dec.Array) != 3 {
		t.Fatalf("len = %d, want 3", len(dec.Array))
	}
	if dec.Array[0].Int != 1 || dec.Array[1].Str != "two" || dec.Array[2].Bool != true {
		t.Errorf("array elements mismatch: %+v", dec.Array)
	}
}

func TestEncodeNullIsEmptyString(t *testing.T) {
	enc, err := Encode(domain.Null)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if enc != "" {
		t.Errorf("encoding Null = %q, want empty string", enc)
	}
}

func TestKindToVariableType(t *testing.T) {
	cases := map[domain.ValueKind]domain.VariableType{
		domain.KindBool:   domain.VarBool,
		domain.KindInt:    domain.VarInt,
		domain.KindLong:   domain.VarLong,
		domain.KindDouble: domain.VarDouble,
		domain.KindString: domain.VarString,
		domain.KindArray:  domain.VarArray,
		domain.KindObject: domain.VarObject,
	}
	for kind, want := range cases {
		if got := KindToVariableType(kind); got != want {
			t.Errorf("KindToVariableType(%s) = %s, want %s", kind, got, want)
		}
	}
}
