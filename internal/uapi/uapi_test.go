package uapi

import "testing"

func TestStreamSampleBlockRoundTrip(t *testing.T) {
	original := &StreamSampleBlock{
		SampleID:        1000,
		FieldID:         2,
		Index:           0,
		ElementType:     ElementTypeFloat,
		ElementSizeBits: 32,
		ElementCount:    4,
		SampleRate:      1_000_000,
		DecimateFactor:  1,
		TimeMap: TimeMap{
			OffsetTime:    123456789,
			OffsetCounter: 1000,
			CounterRate:   1_000_000.0,
		},
		Data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) != StreamBlockHeaderSize+len(original.Data) {
		t.Errorf("Marshal length = %d, want %d", len(data), StreamBlockHeaderSize+len(original.Data))
	}

	var got StreamSampleBlock
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.SampleID != original.SampleID || got.ElementCount != original.ElementCount {
		t.Errorf("header round-trip mismatch: got %+v, want %+v", got, original)
	}
	if got.TimeMap != original.TimeMap {
		t.Errorf("TimeMap = %+v, want %+v", got.TimeMap, original.TimeMap)
	}
	if string(got.Data) != string(original.Data) {
		t.Errorf("Data = %v, want %v", got.Data, original.Data)
	}
}

func TestStreamSampleBlockUnmarshalShort(t *testing.T) {
	var got StreamSampleBlock
	if err := Unmarshal(make([]byte, 10), &got); err != ErrInsufficientData {
		t.Errorf("Unmarshal(short) = %v, want ErrInsufficientData", err)
	}
}

func TestBufferRequestRoundTrip(t *testing.T) {
	original := &BufferRequest{
		Version:  WireVersion,
		TimeType: TimeTypeUTC,
		Start:    100,
		End:      200,
		RspTopic: "m/001/s/000/rsp",
		RspID:    42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) != BufferRequestWireSize {
		t.Errorf("Marshal length = %d, want %d", len(data), BufferRequestWireSize)
	}

	var got BufferRequest
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != *original {
		t.Errorf("round-trip = %+v, want %+v", got, original)
	}
}

func TestBufferRequestTopicTooLong(t *testing.T) {
	long := make([]byte, RspTopicMaxLen+1)
	for i := range long {
		long[i] = 'x'
	}
	r := &BufferRequest{RspTopic: string(long)}
	if _, err := Marshal(r); err != ErrTopicTooLong {
		t.Errorf("Marshal(too-long topic) = %v, want ErrTopicTooLong", err)
	}
}

func TestBufferResponseRoundTrip(t *testing.T) {
	original := &BufferResponse{
		Version:      WireVersion,
		ResponseType: ResponseTypeSummary,
		RspID:        7,
		Info: BufferInfo{
			Version:         WireVersion,
			SignalID:        3,
			ElementType:     ElementTypeFloat,
			ElementSizeBits: 32,
			SampleRate:      48000,
			DecimateFactor:  100,
			TimeStartUTC:    1,
			TimeEndUTC:      2,
			SampleIDStart:   10,
			SampleIDEnd:     20,
		},
		Data: []byte{0, 1, 2, 3, 4, 5, 6, 7},
	}

	data := func() []byte {
		b, err := Marshal(original)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		return b
	}()

	var got BufferResponse
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Info != original.Info {
		t.Errorf("Info = %+v, want %+v", got.Info, original.Info)
	}
	if string(got.Data) != string(original.Data) {
		t.Errorf("Data = %v, want %v", got.Data, original.Data)
	}
}

func TestMarshalUnknownType(t *testing.T) {
	if _, err := Marshal(42); err != ErrInvalidType {
		t.Errorf("Marshal(int) = %v, want ErrInvalidType", err)
	}
	if err := Unmarshal([]byte{}, &struct{}{}); err != ErrInvalidType {
		t.Errorf("Unmarshal(unknown) = %v, want ErrInvalidType", err)
	}
}
