package jsdrv

import "testing"

func TestStrValueRoundTrips(t *testing.T) {
	v := StrValue("hello")
	if v.ToString() != "hello" {
		t.Errorf("Expected ToString()=hello, got %s", v.ToString())
	}
}

func TestU32ValueRoundTrips(t *testing.T) {
	v := U32Value(42)
	got, err := v.AsU64()
	if err != nil {
		t.Fatalf("AsU64 failed: %v", err)
	}
	if got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
}

func TestF64ValueRoundTrips(t *testing.T) {
	v := F64Value(3.5)
	got, err := v.AsF64()
	if err != nil {
		t.Fatalf("AsF64 failed: %v", err)
	}
	if got != 3.5 {
		t.Errorf("Expected 3.5, got %v", got)
	}
}

func TestBinaryAppValueCarriesPayload(t *testing.T) {
	payload := []byte{1, 2, 3}
	v := BinaryAppValue(payload, AppBufferInfo)
	if v.Len() != len(payload) {
		t.Errorf("Expected Len()=%d, got %d", len(payload), v.Len())
	}
}

func TestNullValueIsEmpty(t *testing.T) {
	v := NullValue()
	if v.Len() != 0 {
		t.Errorf("Expected NullValue to have zero length, got %d", v.Len())
	}
}
