package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the dynamic type carried by a Value.
type ValueKind uint8

const (
	KindNumber ValueKind = iota
	KindBoolean
	KindString
	KindNull
)

// Value is the CoVM's single dynamic value type: a tagged union of
// {Number, Boolean, String, Null}. It is never conflated with a host Go
// string or float64 outside this file's coercion helpers.
type Value struct {
	kind ValueKind
	num  float64
	b    bool
	s    string
}

func Number(n float64) Value  { return Value{kind: KindNumber, num: n} }
func Boolean(b bool) Value    { return Value{kind: KindBoolean, b: b} }
func String(s string) Value   { return Value{kind: KindString, s: s} }
func Null() Value             { return Value{kind: KindNull} }
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNumber() bool  { return v.kind == KindNumber }
func (v Value) IsBoolean() bool { return v.kind == KindBoolean }
func (v Value) IsString() bool  { return v.kind == KindString }
func (v Value) IsNull() bool    { return v.kind == KindNull }

// ToNumber coerces per §3: Number self; Boolean 1/0; numeric String parses;
// Null is 0; a non-numeric String fails with TypeMismatch.
func (v Value) ToNumber() (float64, error) {
	switch v.kind {
	case KindNumber:
		return v.num, nil
	case KindBoolean:
		if v.b {
			return 1, nil
		}
		return 0, nil
	case KindNull:
		return 0, nil
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, newErr(ErrKindTypeMismatch, "ToNumber", fmt.Sprintf("cannot coerce %q to number", v.s))
		}
		return n, nil
	default:
		return 0, newErr(ErrKindTypeMismatch, "ToNumber", "unknown value kind")
	}
}

// ToBool is the CoVM's truthiness convention, resolved per SPEC_FULL §12.1:
// standard 0/false/""/null = false, applied uniformly across If/While and
// governance threshold ops.
func (v Value) ToBool() bool {
	switch v.kind {
	case KindNumber:
		return v.num != 0
	case KindBoolean:
		return v.b
	case KindString:
		return v.s != ""
	case KindNull:
		return false
	default:
		return false
	}
}

// ToCanonicalString is the canonical decimal/literal form used both for
// display and for the wire encoding written by StoreP (§6).
func (v Value) ToCanonicalString() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBoolean:
		if v.b {
			return "true"
		}
		return "false"
	case KindString:
		return v.s
	case KindNull:
		return "null"
	default:
		return ""
	}
}

func (v Value) String() string { return v.ToCanonicalString() }

func (v Value) typeName() string {
	switch v.kind {
	case KindNumber:
		return "Number"
	case KindBoolean:
		return "Boolean"
	case KindString:
		return "String"
	case KindNull:
		return "Null"
	default:
		return "Unknown"
	}
}

// ArithOp names an arithmetic opcode for error reporting and dispatch.
type ArithOp int

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNegate
)

// Arith implements the arithmetic coercion matrix from §3: if either side is
// a String, '+' concatenates and '*' repeats; '-', '/', '%' require both
// numeric. Division/modulo by zero is DivisionByZero.
func (v Value) Arith(op ArithOp, rhs Value) (Value, error) {
	opName := arithOpName(op)

	if op == OpNegate {
		n, err := v.ToNumber()
		if err != nil {
			return Value{}, err
		}
		return Number(-n), nil
	}

	if v.kind == KindString || rhs.kind == KindString {
		switch op {
		case OpAdd:
			return String(v.ToCanonicalString() + rhs.ToCanonicalString()), nil
		case OpMul:
			var s string
			var n float64
			var err error
			if v.kind == KindString {
				s, n = v.s, 0
				n, err = rhs.ToNumber()
			} else {
				s, err = rhs.s, nil
				n, err = v.ToNumber()
				s = rhs.s
			}
			if err != nil {
				return Value{}, err
			}
			if n < 0 {
				n = 0
			}
			return String(strings.Repeat(s, int(n))), nil
		default:
			return Value{}, newErr(ErrKindTypeMismatch, opName, "string operand requires + or *")
		}
	}

	a, err := v.ToNumber()
	if err != nil {
		return Value{}, err
	}
	b, err := rhs.ToNumber()
	if err != nil {
		return Value{}, err
	}

	switch op {
	case OpAdd:
		return Number(a + b), nil
	case OpSub:
		return Number(a - b), nil
	case OpMul:
		return Number(a * b), nil
	case OpDiv:
		if b == 0 {
			return Value{}, ErrDivisionByZero(opName)
		}
		return Number(a / b), nil
	case OpMod:
		if b == 0 {
			return Value{}, ErrDivisionByZero(opName)
		}
		return Number(float64(int64(a) % int64(b))), nil
	default:
		return Value{}, newErr(ErrKindInvalidOperation, opName, "unsupported arithmetic op")
	}
}

func arithOpName(op ArithOp) string {
	switch op {
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpMul:
		return "Mul"
	case OpDiv:
		return "Div"
	case OpMod:
		return "Mod"
	case OpNegate:
		return "Negate"
	default:
		return "Arith"
	}
}

// CmpOp names a comparison opcode.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpLt
	OpGt
)

// Cmp implements §3's comparison rules: lexicographic for string-vs-string,
// otherwise numeric comparison when both sides coerce to number. When a side
// does not coerce, Eq is true only for the same kind and representation, and
// Lt/Gt fail with TypeMismatch.
func (v Value) Cmp(op CmpOp, rhs Value) (bool, error) {
	opName := cmpOpName(op)

	if v.kind == KindString && rhs.kind == KindString {
		switch op {
		case OpEq:
			return v.s == rhs.s, nil
		case OpLt:
			return v.s < rhs.s, nil
		case OpGt:
			return v.s > rhs.s, nil
		}
	}

	an, aerr := v.ToNumber()
	bn, berr := rhs.ToNumber()
	if aerr != nil || berr != nil {
		if op == OpEq {
			// Non-numeric cross-type equality: only equal if same kind+repr.
			return v.kind == rhs.kind && v.ToCanonicalString() == rhs.ToCanonicalString(), nil
		}
		return false, newErr(ErrKindTypeMismatch, opName, fmt.Sprintf("cannot compare %s and %s", v.typeName(), rhs.typeName()))
	}

	switch op {
	case OpEq:
		return an == bn, nil
	case OpLt:
		return an < bn, nil
	case OpGt:
		return an > bn, nil
	default:
		return false, newErr(ErrKindInvalidOperation, opName, "unsupported comparison op")
	}
}

func cmpOpName(op CmpOp) string {
	switch op {
	case OpEq:
		return "Eq"
	case OpLt:
		return "Lt"
	case OpGt:
		return "Gt"
	default:
		return "Cmp"
	}
}

// LogicOp names a logic opcode.
type LogicOp int

const (
	OpNot LogicOp = iota
	OpAnd
	OpOr
)

// Logical operates on booleans after truthiness coercion (§4.1). Not is
// unary; And/Or take rhs.
func (v Value) Logical(op LogicOp, rhs *Value) (Value, error) {
	switch op {
	case OpNot:
		return Boolean(!v.ToBool()), nil
	case OpAnd:
		if rhs == nil {
			return Value{}, newErr(ErrKindInvalidOperation, "And", "missing right operand")
		}
		return Boolean(v.ToBool() && rhs.ToBool()), nil
	case OpOr:
		if rhs == nil {
			return Value{}, newErr(ErrKindInvalidOperation, "Or", "missing right operand")
		}
		return Boolean(v.ToBool() || rhs.ToBool()), nil
	default:
		return Value{}, newErr(ErrKindInvalidOperation, "Logical", "unsupported logic op")
	}
}

// DecodeWireValue reconstructs a Value from its StoreP/LoadP wire encoding
// (§6): try a numeric parse, then a boolean literal, then "null", else fall
// back to a raw String.
func DecodeWireValue(raw []byte) Value {
	s := string(raw)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(n)
	}
	switch s {
	case "true":
		return Boolean(true)
	case "false":
		return Boolean(false)
	case "null":
		return Null()
	}
	return String(s)
}

// EncodeWireValue produces the canonical byte form StoreP persists (§6):
// numbers as decimal, booleans as "true"/"false", Null as "null", strings as
// raw UTF-8.
func EncodeWireValue(v Value) []byte {
	return []byte(v.ToCanonicalString())
}
