package schema

import "testing"

func TestValidateMetadataAcceptsMinimalDocument(t *testing.T) {
	m, err := ValidateMetadata([]byte(`{"dtype": "f32"}`))
	if err != nil {
		t.Fatalf("ValidateMetadata: %v", err)
	}
	if Dtype(m) != "f32" {
		t.Errorf("Dtype() = %q, want f32", Dtype(m))
	}
}

func TestValidateMetadataAcceptsFullDocument(t *testing.T) {
	doc := `{
		"dtype": "u32",
		"brief": "sample rate",
		"detail": "samples per second captured by the ADC",
		"default": 1000000,
		"options": [[1000000, "1 MHz"], [2000000, "2 MHz"]],
		"range": [1000, 5000000],
		"format": "%d Hz",
		"flags": ["ro"]
	}`
	if _, err := ValidateMetadata([]byte(doc)); err != nil {
		t.Fatalf("ValidateMetadata: %v", err)
	}
}

func TestValidateMetadataRejectsUnknownDtype(t *testing.T) {
	if _, err := ValidateMetadata([]byte(`{"dtype": "float128"}`)); err == nil {
		t.Error("expected error for unrecognized dtype")
	}
}

func TestValidateMetadataRejectsMissingDtype(t *testing.T) {
	if _, err := ValidateMetadata([]byte(`{"brief": "no dtype"}`)); err == nil {
		t.Error("expected error for missing required dtype")
	}
}

func TestValidateMetadataRejectsUnrecognizedKey(t *testing.T) {
	if _, err := ValidateMetadata([]byte(`{"dtype": "str", "unexpected": 1}`)); err == nil {
		t.Error("expected error for additional property")
	}
}

func TestValidateMetadataRejectsInvalidJSON(t *testing.T) {
	if _, err := ValidateMetadata([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed json")
	}
}

func TestValidateMetadataRejectsBadRangeArity(t *testing.T) {
	if _, err := ValidateMetadata([]byte(`{"dtype": "f64", "range": [1]}`)); err == nil {
		t.Error("expected error for range with wrong arity")
	}
}
