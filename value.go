package jsdrv

import "github.com/jsdrv/jsdrv-go/internal/value"

// Value is the tagged variant carried by every publish, query, and
// subscription callback (spec.md §3, §4.1).
type Value = value.Value

// App is the one-byte discriminator for well-known binary payloads
// carried by a binary-kind Value (stream sample blocks, buffer
// requests/responses/info, statistics).
type App = value.App

// Well-known App discriminators, re-exported for callers decoding a
// binary Value received from a buffer or device topic.
const (
	AppNone              = value.AppNone
	AppStreamSampleBlock = value.AppStreamSampleBlock
	AppStatistics        = value.AppStatistics
	AppBufferInfo        = value.AppBufferInfo
	AppBufferRequest     = value.AppBufferRequest
	AppBufferResponse    = value.AppBufferResponse
	AppSubscribe         = value.AppSubscribe
	AppDeviceAdd         = value.AppDeviceAdd
)

// Value constructors, re-exported so callers never need to import the
// internal/value package directly.
func NullValue() Value { return value.Null() }
func StrValue(s string) Value { return value.Str(s) }
func JSONValue(b []byte) Value { return value.JSON(b) }
func BinaryValue(b []byte) Value { return value.Binary(b) }
func BinaryAppValue(b []byte, app App) Value { return value.BinaryApp(b, app) }
func F32Value(f float32) Value { return value.F32(f) }
func F64Value(f float64) Value { return value.F64(f) }
func U8Value(v uint8) Value { return value.U8(v) }
func U16Value(v uint16) Value { return value.U16(v) }
func U32Value(v uint32) Value { return value.U32(v) }
func U64Value(v uint64) Value { return value.U64(v) }
func I8Value(v int8) Value { return value.I8(v) }
func I16Value(v int16) Value { return value.I16(v) }
func I32Value(v int32) Value { return value.I32(v) }
func I64Value(v int64) Value { return value.I64(v) }
