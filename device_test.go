package jsdrv

import (
	"testing"
	"time"
)

func TestAddDeviceStartsWorkerAndPublishesList(t *testing.T) {
	f := newTestFrontend(t)
	mock := NewMockDeviceWorker()
	f.RegisterDeviceModel("mock", func() DeviceWorker { return mock })

	if err := f.AddDevice("d0", "mock"); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}
	if mock.OpenCalls() != 1 {
		t.Errorf("Expected Open called once, got %d", mock.OpenCalls())
	}

	list, err := f.Query("@/list")
	if err != nil {
		t.Fatalf("Query @/list failed: %v", err)
	}
	if list.ToString() != "d0" {
		t.Errorf("Expected device list 'd0', got %q", list.ToString())
	}
}

func TestAddDeviceUnknownModelFails(t *testing.T) {
	f := newTestFrontend(t)
	err := f.AddDevice("d0", "nonexistent")
	if !IsCode(err, CodeNotSupported) {
		t.Errorf("Expected CodeNotSupported, got %v", err)
	}
}

func TestAddDeviceDuplicatePrefixFails(t *testing.T) {
	f := newTestFrontend(t)
	f.RegisterDeviceModel("mock", func() DeviceWorker { return NewMockDeviceWorker() })
	if err := f.AddDevice("d0", "mock"); err != nil {
		t.Fatalf("first AddDevice failed: %v", err)
	}
	err := f.AddDevice("d0", "mock")
	if !IsCode(err, CodeAlreadyExists) {
		t.Errorf("Expected CodeAlreadyExists, got %v", err)
	}
}

func TestDeviceMessageReachesWorkerAndReturnsCode(t *testing.T) {
	f := newTestFrontend(t)
	mock := NewMockDeviceWorker()
	f.RegisterDeviceModel("mock", func() DeviceWorker { return mock })
	if err := f.AddDevice("d0", "mock"); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	done := make(chan Value, 1)
	if err := f.Subscribe("d0/x", FlagReturnCode, "rc-listener", nil, func(_ string, v Value) {
		done <- v
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := f.Publish("d0/x", StrValue("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case v := <-done:
		code, _ := v.AsI64()
		if code != int64(CodeSuccess.ReturnCode()) {
			t.Errorf("Expected success return code, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device return code")
	}

	topic, val := mock.LastMessage()
	if topic != "d0/x" {
		t.Errorf("Expected worker to see topic d0/x, got %s", topic)
	}
	if val.ToString() != "hello" {
		t.Errorf("Expected worker to see value 'hello', got %q", val.ToString())
	}
}

func TestRemoveDeviceClosesWorkerAndUpdatesList(t *testing.T) {
	f := newTestFrontend(t)
	mock := NewMockDeviceWorker()
	f.RegisterDeviceModel("mock", func() DeviceWorker { return mock })
	if err := f.AddDevice("d0", "mock"); err != nil {
		t.Fatalf("AddDevice failed: %v", err)
	}

	if err := f.RemoveDevice("d0"); err != nil {
		t.Fatalf("RemoveDevice failed: %v", err)
	}
	if mock.CloseCalls() != 1 {
		t.Errorf("Expected Close called once, got %d", mock.CloseCalls())
	}

	list, err := f.Query("@/list")
	if err != nil {
		t.Fatalf("Query @/list failed: %v", err)
	}
	if list.ToString() != "" {
		t.Errorf("Expected empty device list after removal, got %q", list.ToString())
	}
}

func TestRemoveDeviceUnknownPrefixFails(t *testing.T) {
	f := newTestFrontend(t)
	err := f.RemoveDevice("nope")
	if !IsCode(err, CodeNotFound) {
		t.Errorf("Expected CodeNotFound, got %v", err)
	}
}
