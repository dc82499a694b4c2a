package vm

import "fmt"

// ---------------------------------------------------------------------------
// ErrorCode: machine-level failure reasons
// ---------------------------------------------------------------------------

// ErrorCode is the closed enumeration of machine-level failure reasons.
// Values are ordinally stable: they appear in the ERROR register and in
// core dumps, so reordering them breaks the wire contract.
type ErrorCode byte

const (
	NoError           ErrorCode = iota // operation succeeded
	EndOfFile                          // input interrupt hit end of stream
	InvalidInput                       // malformed input or operand
	ZeroDivision                       // division by zero
	AllocationTooLarge                 // request exceeds allocator limits
	StackOverflow                      // stack grew past its region
	HeapOverflow                       // heap exhausted
	DoubleFree                         // free of an already-free block
	OutOfBounds                        // address outside the owning region
	UnalignedAddress                   // address not on an allocation boundary
	GenericError                       // catch-all sentinel, must stay last
)

// errorCodeNames maps codes to their display names.
var errorCodeNames = [...]string{
	NoError:            "NO_ERROR",
	EndOfFile:          "END_OF_FILE",
	InvalidInput:       "INVALID_INPUT",
	ZeroDivision:       "ZERO_DIVISION",
	AllocationTooLarge: "ALLOCATION_TOO_LARGE",
	StackOverflow:      "STACK_OVERFLOW",
	HeapOverflow:       "HEAP_OVERFLOW",
	DoubleFree:         "DOUBLE_FREE",
	OutOfBounds:        "OUT_OF_BOUNDS",
	UnalignedAddress:   "UNALIGNED_ADDRESS",
	GenericError:       "GENERIC_ERROR",
}

// ErrorCodeFromByte converts a raw byte into an ErrorCode. It returns
// false if the byte is outside the enumeration. The bounds check relies
// on GenericError being the highest ordinal.
func ErrorCodeFromByte(b byte) (ErrorCode, bool) {
	if b > byte(GenericError) {
		return GenericError, false
	}
	return ErrorCode(b), true
}

// String returns the display name of the code.
func (e ErrorCode) String() string {
	if int(e) < len(errorCodeNames) {
		return errorCodeNames[e]
	}
	return fmt.Sprintf("UNKNOWN_%02X", byte(e))
}

// Err converts the code to a Go error for host-boundary propagation.
// NoError converts to nil.
func (e ErrorCode) Err() error {
	if e == NoError {
		return nil
	}
	return fmt.Errorf("vm: %s", e)
}
