package jsdrv

import (
	"errors"
	"testing"
)

func TestNewErrorCarriesOpTopicCode(t *testing.T) {
	err := NewError("Publish", "a/b/c", CodeNotFound)

	if err.Op != "Publish" {
		t.Errorf("Expected Op=Publish, got %s", err.Op)
	}
	if err.Topic != "a/b/c" {
		t.Errorf("Expected Topic=a/b/c, got %s", err.Topic)
	}
	if err.Code != CodeNotFound {
		t.Errorf("Expected Code=CodeNotFound, got %s", err.Code)
	}
}

func TestWrapErrorPreservesCode(t *testing.T) {
	inner := NewError("Query", "x/y", CodeTooSmall)
	wrapped := WrapError("Publish", "x/y", inner)

	if wrapped.Code != CodeTooSmall {
		t.Errorf("Expected wrapped Code=CodeTooSmall, got %s", wrapped.Code)
	}
	if !errors.Is(wrapped, inner) {
		t.Error("Expected wrapped error to satisfy errors.Is against the inner error")
	}
}

func TestWrapErrorDefaultsUnspecified(t *testing.T) {
	wrapped := WrapError("Publish", "x/y", errors.New("boom"))
	if wrapped.Code != CodeUnspecified {
		t.Errorf("Expected Code=CodeUnspecified for a plain error, got %s", wrapped.Code)
	}
}

func TestIsCodeMatchesWrappedChain(t *testing.T) {
	err := WrapError("AddDevice", "@/!add", NewError("Open", "@/!add", CodeAlreadyExists))
	if !IsCode(err, CodeAlreadyExists) {
		t.Error("Expected IsCode(err, CodeAlreadyExists) to be true")
	}
	if IsCode(err, CodeNotFound) {
		t.Error("Expected IsCode(err, CodeNotFound) to be false")
	}
}

func TestCodeReturnCodeIsNegative(t *testing.T) {
	if CodeSuccess.ReturnCode() != 0 {
		t.Errorf("Expected CodeSuccess.ReturnCode()=0, got %d", CodeSuccess.ReturnCode())
	}
	if CodeNotFound.ReturnCode() >= 0 {
		t.Errorf("Expected CodeNotFound.ReturnCode() < 0, got %d", CodeNotFound.ReturnCode())
	}
}
