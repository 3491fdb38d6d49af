package core

import "fmt"

// ErrorKind tags a VMError with the taxonomy from the governance VM error
// model: runtime, lookup, storage and identity/governance failures all
// bubble out of the op that raised them to the VM loop, which aborts the
// current operation list.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota

	// Runtime
	ErrKindStackUnderflow
	ErrKindTypeMismatch
	ErrKindDivisionByZero
	ErrKindInvalidOperation
	ErrKindNotImplemented
	ErrKindAssertionFailed
	ErrKindContextMismatch

	// Lookup
	ErrKindUndefinedVariable
	ErrKindUndefinedFunction
	ErrKindUndefinedParameter

	// Storage
	ErrKindNotFound
	ErrKindPermissionDenied
	ErrKindQuotaExceeded
	ErrKindSerialization
	ErrKindDeserialization
	ErrKindTransaction
	ErrKindVersionNotFound
	ErrKindStorageUnavailable
	ErrKindInvalidFormat
	ErrKindValidation
	ErrKindConfiguration

	// Identity / governance
	ErrKindInvalidSignature
	ErrKindIdentityNotFound
	ErrKindInvalidIdentity
	ErrKindGovernance
	ErrKindInvalidAmount
	ErrKindResourceNotFound
	ErrKindResourceAlreadyExists
	ErrKindInsufficientBalance
	ErrKindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindStackUnderflow:
		return "StackUnderflow"
	case ErrKindTypeMismatch:
		return "TypeMismatch"
	case ErrKindDivisionByZero:
		return "DivisionByZero"
	case ErrKindInvalidOperation:
		return "InvalidOperation"
	case ErrKindNotImplemented:
		return "NotImplemented"
	case ErrKindAssertionFailed:
		return "AssertionFailed"
	case ErrKindContextMismatch:
		return "ContextMismatch"
	case ErrKindUndefinedVariable:
		return "UndefinedVariable"
	case ErrKindUndefinedFunction:
		return "UndefinedFunction"
	case ErrKindUndefinedParameter:
		return "UndefinedParameter"
	case ErrKindNotFound:
		return "NotFound"
	case ErrKindPermissionDenied:
		return "PermissionDenied"
	case ErrKindQuotaExceeded:
		return "QuotaExceeded"
	case ErrKindSerialization:
		return "Serialization"
	case ErrKindDeserialization:
		return "Deserialization"
	case ErrKindTransaction:
		return "TransactionError"
	case ErrKindVersionNotFound:
		return "VersionNotFound"
	case ErrKindStorageUnavailable:
		return "StorageUnavailable"
	case ErrKindInvalidFormat:
		return "InvalidFormat"
	case ErrKindValidation:
		return "ValidationError"
	case ErrKindConfiguration:
		return "ConfigurationError"
	case ErrKindInvalidSignature:
		return "InvalidSignature"
	case ErrKindIdentityNotFound:
		return "IdentityNotFound"
	case ErrKindInvalidIdentity:
		return "InvalidIdentity"
	case ErrKindGovernance:
		return "GovernanceError"
	case ErrKindInvalidAmount:
		return "InvalidAmount"
	case ErrKindResourceNotFound:
		return "ResourceNotFound"
	case ErrKindResourceAlreadyExists:
		return "ResourceAlreadyExists"
	case ErrKindInsufficientBalance:
		return "InsufficientBalance"
	case ErrKindRateLimited:
		return "RateLimited"
	default:
		return "Unknown"
	}
}

// VMError is the single error type returned across the VM, Storage, Executor
// and governance layers. Kind drives caller-visible behavior (§4.10); Op and
// Detail are informational payloads.
type VMError struct {
	Kind   ErrorKind
	Op     string
	Detail string
	cause  error
}

func (e *VMError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Kind, e.Detail, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *VMError) Unwrap() error { return e.cause }

func newErr(kind ErrorKind, op, detail string) *VMError {
	return &VMError{Kind: kind, Op: op, Detail: detail}
}

func wrapErr(kind ErrorKind, op, detail string, cause error) *VMError {
	return &VMError{Kind: kind, Op: op, Detail: detail, cause: cause}
}

// KindOf extracts the ErrorKind from err, or ErrUnknown if err is not a
// *VMError (or is nil).
func KindOf(err error) ErrorKind {
	var ve *VMError
	if err == nil {
		return ErrUnknown
	}
	if AsVMError(err, &ve) {
		return ve.Kind
	}
	return ErrUnknown
}

// AsVMError is a small errors.As shim kept local so callers don't need to
// import "errors" just to type-switch on *VMError.
func AsVMError(err error, target **VMError) bool {
	for err != nil {
		if ve, ok := err.(*VMError); ok {
			*target = ve
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func ErrStackUnderflow(op string) error {
	return newErr(ErrKindStackUnderflow, op, "stack underflow")
}

func ErrTypeMismatch(op, expected, found string) error {
	return newErr(ErrKindTypeMismatch, op, fmt.Sprintf("expected %s, found %s", expected, found))
}

func ErrDivisionByZero(op string) error {
	return newErr(ErrKindDivisionByZero, op, "division or modulo by zero")
}

func ErrUndefinedVariable(name string) error {
	return newErr(ErrKindUndefinedVariable, "Load", fmt.Sprintf("undefined variable %q", name))
}

func ErrUndefinedFunction(name string) error {
	return newErr(ErrKindUndefinedFunction, "Call", fmt.Sprintf("undefined function %q", name))
}

func ErrNotFoundKey(namespace, key string) error {
	return newErr(ErrKindNotFound, "get", fmt.Sprintf("key %q not found in namespace %q", key, namespace))
}

func ErrPermissionDeniedOp(identity, action, resource string) error {
	return newErr(ErrKindPermissionDenied, action, fmt.Sprintf("identity %q lacks %s on %q", identity, action, resource))
}

func ErrQuotaExceededAccount(account string, delta, available int64) error {
	return newErr(ErrKindQuotaExceeded, "set", fmt.Sprintf("account %q needs %d bytes, has %d available", account, delta, available))
}

func ErrGovernance(op, detail string) error {
	return newErr(ErrKindGovernance, op, detail)
}

func ErrInvalidAmountOp(op string, amount float64) error {
	return newErr(ErrKindInvalidAmount, op, fmt.Sprintf("invalid amount %v", amount))
}

func ErrRateLimited(op string) error {
	return newErr(ErrKindRateLimited, op, "operation rate limit exceeded")
}

func ErrBreakOutsideLoop() error {
	return newErr(ErrKindInvalidOperation, "Break", "break outside of any enclosing loop")
}

func ErrContinueOutsideLoop() error {
	return newErr(ErrKindInvalidOperation, "Continue", "continue outside of any enclosing loop")
}
