package uapi

import (
	"encoding/binary"
	"math"
)

// MarshalError is a sentinel string error, matching the style of a
// small fixed set of wire-format failures rather than wrapped errors.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrInvalidType       MarshalError = "invalid type for marshaling"
	ErrTopicTooLong      MarshalError = "response topic exceeds wire field width"
)

// Marshal converts a struct to bytes using the wire's fixed
// little-endian layout.
func Marshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case *StreamSampleBlock:
		return marshalStreamSampleBlock(val), nil
	case *BufferRequest:
		return marshalBufferRequest(val)
	case *BufferResponse:
		return marshalBufferResponse(val), nil
	case *BufferInfo:
		return marshalBufferInfo(val), nil
	default:
		return nil, ErrInvalidType
	}
}

// Unmarshal converts bytes back to a struct.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *StreamSampleBlock:
		return unmarshalStreamSampleBlock(data, val)
	case *BufferRequest:
		return unmarshalBufferRequest(data, val)
	case *BufferResponse:
		return unmarshalBufferResponse(data, val)
	case *BufferInfo:
		return unmarshalBufferInfo(data, val)
	default:
		return ErrInvalidType
	}
}

func marshalTimeMap(buf []byte, tm TimeMap) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(tm.OffsetTime))
	binary.LittleEndian.PutUint64(buf[8:16], tm.OffsetCounter)
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(tm.CounterRate))
}

func unmarshalTimeMap(data []byte) TimeMap {
	return TimeMap{
		OffsetTime:    int64(binary.LittleEndian.Uint64(data[0:8])),
		OffsetCounter: binary.LittleEndian.Uint64(data[8:16]),
		CounterRate:   math.Float64frombits(binary.LittleEndian.Uint64(data[16:24])),
	}
}

func marshalStreamSampleBlock(b *StreamSampleBlock) []byte {
	buf := make([]byte, StreamBlockHeaderSize+len(b.Data))

	binary.LittleEndian.PutUint64(buf[0:8], b.SampleID)
	buf[8] = b.FieldID
	buf[9] = b.Index
	buf[10] = b.ElementType
	buf[11] = b.ElementSizeBits
	binary.LittleEndian.PutUint32(buf[12:16], b.ElementCount)
	binary.LittleEndian.PutUint32(buf[16:20], b.SampleRate)
	binary.LittleEndian.PutUint32(buf[20:24], b.DecimateFactor)
	marshalTimeMap(buf[24:48], b.TimeMap)

	copy(buf[StreamBlockHeaderSize:], b.Data)
	return buf
}

func unmarshalStreamSampleBlock(data []byte, b *StreamSampleBlock) error {
	if len(data) < StreamBlockHeaderSize {
		return ErrInsufficientData
	}

	b.SampleID = binary.LittleEndian.Uint64(data[0:8])
	b.FieldID = data[8]
	b.Index = data[9]
	b.ElementType = data[10]
	b.ElementSizeBits = data[11]
	b.ElementCount = binary.LittleEndian.Uint32(data[12:16])
	b.SampleRate = binary.LittleEndian.Uint32(data[16:20])
	b.DecimateFactor = binary.LittleEndian.Uint32(data[20:24])
	b.TimeMap = unmarshalTimeMap(data[24:48])

	b.Data = append([]byte(nil), data[StreamBlockHeaderSize:]...)
	return nil
}

func marshalBufferRequest(r *BufferRequest) ([]byte, error) {
	if len(r.RspTopic) > RspTopicMaxLen {
		return nil, ErrTopicTooLong
	}

	buf := make([]byte, BufferRequestWireSize)
	buf[0] = r.Version
	buf[1] = r.TimeType
	// buf[2:4] reserved padding, left zero.
	binary.LittleEndian.PutUint64(buf[4:12], uint64(r.Start))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(r.End))
	copy(buf[20:20+RspTopicMaxLen], r.RspTopic)
	binary.LittleEndian.PutUint32(buf[20+RspTopicMaxLen:24+RspTopicMaxLen], r.RspID)
	binary.LittleEndian.PutUint32(buf[24+RspTopicMaxLen:28+RspTopicMaxLen], r.Length)
	return buf, nil
}

func unmarshalBufferRequest(data []byte, r *BufferRequest) error {
	if len(data) < BufferRequestWireSize {
		return ErrInsufficientData
	}

	r.Version = data[0]
	r.TimeType = data[1]
	r.Start = int64(binary.LittleEndian.Uint64(data[4:12]))
	r.End = int64(binary.LittleEndian.Uint64(data[12:20]))

	topicBytes := data[20 : 20+RspTopicMaxLen]
	end := 0
	for end < len(topicBytes) && topicBytes[end] != 0 {
		end++
	}
	r.RspTopic = string(topicBytes[:end])
	r.RspID = binary.LittleEndian.Uint32(data[20+RspTopicMaxLen : 24+RspTopicMaxLen])
	r.Length = binary.LittleEndian.Uint32(data[24+RspTopicMaxLen : 28+RspTopicMaxLen])
	return nil
}

func marshalBufferInfo(info *BufferInfo) []byte {
	buf := make([]byte, BufferInfoWireSize)
	buf[0] = info.Version
	buf[1] = info.SignalID
	buf[2] = info.ElementType
	buf[3] = info.ElementSizeBits
	binary.LittleEndian.PutUint32(buf[4:8], info.SampleRate)
	binary.LittleEndian.PutUint32(buf[8:12], info.DecimateFactor)
	binary.LittleEndian.PutUint64(buf[12:20], uint64(info.TimeStartUTC))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(info.TimeEndUTC))
	binary.LittleEndian.PutUint64(buf[28:36], info.SampleIDStart)
	binary.LittleEndian.PutUint64(buf[36:44], info.SampleIDEnd)
	return buf
}

func unmarshalBufferInfo(data []byte, info *BufferInfo) error {
	if len(data) < BufferInfoWireSize {
		return ErrInsufficientData
	}
	info.Version = data[0]
	info.SignalID = data[1]
	info.ElementType = data[2]
	info.ElementSizeBits = data[3]
	info.SampleRate = binary.LittleEndian.Uint32(data[4:8])
	info.DecimateFactor = binary.LittleEndian.Uint32(data[8:12])
	info.TimeStartUTC = int64(binary.LittleEndian.Uint64(data[12:20]))
	info.TimeEndUTC = int64(binary.LittleEndian.Uint64(data[20:28]))
	info.SampleIDStart = binary.LittleEndian.Uint64(data[28:36])
	info.SampleIDEnd = binary.LittleEndian.Uint64(data[36:44])
	return nil
}

func marshalBufferResponse(r *BufferResponse) []byte {
	buf := make([]byte, BufferResponseHeaderSize+len(r.Data))
	buf[0] = r.Version
	buf[1] = r.ResponseType
	binary.LittleEndian.PutUint32(buf[4:8], r.RspID)
	copy(buf[8:8+BufferInfoWireSize], marshalBufferInfo(&r.Info))
	copy(buf[BufferResponseHeaderSize:], r.Data)
	return buf
}

func unmarshalBufferResponse(data []byte, r *BufferResponse) error {
	if len(data) < BufferResponseHeaderSize {
		return ErrInsufficientData
	}
	r.Version = data[0]
	r.ResponseType = data[1]
	r.RspID = binary.LittleEndian.Uint32(data[4:8])
	if err := unmarshalBufferInfo(data[8:8+BufferInfoWireSize], &r.Info); err != nil {
		return err
	}
	r.Data = append([]byte(nil), data[BufferResponseHeaderSize:]...)
	return nil
}
