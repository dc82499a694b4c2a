package vm

import "testing"

func TestErrorCodeSentinelIsHighest(t *testing.T) {
	// Bounds checks on raw bytes rely on the catch-all staying last.
	for _, code := range []ErrorCode{
		NoError, EndOfFile, InvalidInput, ZeroDivision, AllocationTooLarge,
		StackOverflow, HeapOverflow, DoubleFree, OutOfBounds, UnalignedAddress,
	} {
		if code >= GenericError {
			t.Errorf("%s (%d) is not below the GENERIC_ERROR sentinel (%d)", code, code, GenericError)
		}
	}
}

func TestErrorCodeFromByte(t *testing.T) {
	for b := byte(0); b <= byte(GenericError); b++ {
		code, ok := ErrorCodeFromByte(b)
		if !ok || code != ErrorCode(b) {
			t.Errorf("ErrorCodeFromByte(%d) = %s, %v; want in-range success", b, code, ok)
		}
	}
	if _, ok := ErrorCodeFromByte(byte(GenericError) + 1); ok {
		t.Error("ErrorCodeFromByte accepted a byte past the sentinel")
	}
	if _, ok := ErrorCodeFromByte(0xFF); ok {
		t.Error("ErrorCodeFromByte accepted 0xFF")
	}
}

func TestErrorCodeErr(t *testing.T) {
	if err := NoError.Err(); err != nil {
		t.Errorf("NoError.Err() = %v, want nil", err)
	}
	if err := HeapOverflow.Err(); err == nil {
		t.Error("HeapOverflow.Err() = nil, want error")
	}
}

func TestErrorCodeString(t *testing.T) {
	if got := DoubleFree.String(); got != "DOUBLE_FREE" {
		t.Errorf("DoubleFree.String() = %q, want DOUBLE_FREE", got)
	}
	if got := ErrorCode(0xEE).String(); got != "UNKNOWN_EE" {
		t.Errorf("unknown code String() = %q, want UNKNOWN_EE", got)
	}
}
