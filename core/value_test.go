package core

import "testing"

func TestValueToBool(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want bool
	}{
		{"zero", Number(0), false},
		{"nonzero", Number(1), true},
		{"negative", Number(-1), true},
		{"true", Boolean(true), true},
		{"false", Boolean(false), false},
		{"empty string", String(""), false},
		{"nonempty string", String("x"), true},
		{"null", Null(), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.ToBool(); got != c.want {
				t.Errorf("ToBool() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestValueArithStringConcat(t *testing.T) {
	r, err := String("foo").Arith(OpAdd, String("bar"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.IsString() || r.ToCanonicalString() != "foobar" {
		t.Errorf("got %v, want \"foobar\"", r)
	}
}

func TestValueArithStringRepeat(t *testing.T) {
	r, err := String("ab").Arith(OpMul, Number(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ToCanonicalString() != "ababab" {
		t.Errorf("got %q, want %q", r.ToCanonicalString(), "ababab")
	}
}

func TestValueArithDivisionByZero(t *testing.T) {
	_, err := Number(1).Arith(OpDiv, Number(0))
	if KindOf(err) != ErrKindDivisionByZero {
		t.Fatalf("expected DivisionByZero, got %v", err)
	}
}

func TestValueArithModuloByZero(t *testing.T) {
	_, err := Number(1).Arith(OpMod, Number(0))
	if KindOf(err) != ErrKindDivisionByZero {
		t.Fatalf("expected DivisionByZero, got %v", err)
	}
}

func TestValueCmpNumeric(t *testing.T) {
	lt, err := Number(1).Cmp(OpLt, Number(2))
	if err != nil || !lt {
		t.Fatalf("expected 1 < 2, got %v err=%v", lt, err)
	}
}

func TestValueCmpStringLexicographic(t *testing.T) {
	lt, err := String("apple").Cmp(OpLt, String("banana"))
	if err != nil || !lt {
		t.Fatalf("expected apple < banana, got %v err=%v", lt, err)
	}
}

func TestValueCmpTypeMismatch(t *testing.T) {
	_, err := String("notanumber").Cmp(OpLt, Number(5))
	if KindOf(err) != ErrKindTypeMismatch {
		t.Fatalf("expected TypeMismatch, got %v", err)
	}
}

func TestValueToNumberCoercion(t *testing.T) {
	if n, err := Boolean(true).ToNumber(); err != nil || n != 1 {
		t.Errorf("Boolean(true).ToNumber() = %v, %v", n, err)
	}
	if n, err := String("3.5").ToNumber(); err != nil || n != 3.5 {
		t.Errorf("String(\"3.5\").ToNumber() = %v, %v", n, err)
	}
	if _, err := String("nope").ToNumber(); KindOf(err) != ErrKindTypeMismatch {
		t.Errorf("expected TypeMismatch coercing non-numeric string")
	}
}

func TestWireValueRoundTrip(t *testing.T) {
	cases := []Value{Number(42), Boolean(true), Boolean(false), Null(), String("hello")}
	for _, v := range cases {
		encoded := EncodeWireValue(v)
		decoded := DecodeWireValue(encoded)
		if decoded.Kind() != v.Kind() {
			t.Errorf("round trip %v -> %v: kind mismatch", v, decoded)
		}
		if decoded.ToCanonicalString() != v.ToCanonicalString() {
			t.Errorf("round trip %v -> %v: value mismatch", v, decoded)
		}
	}
}
