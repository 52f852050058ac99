package jsdrv

import "github.com/jsdrv/jsdrv-go/internal/constants"

// Re-exported sizing and timing limits, for callers that want to size
// their own buffers or timeouts without importing internal/constants.
const (
	TopicMaxLen       = constants.TopicMaxLen
	TopicLevelMaxLen  = constants.TopicLevelMaxLen
	NormalPayloadSize = constants.NormalPayloadSize
	DataPayloadSize   = constants.DataPayloadSize
	DefaultQueueDepth = constants.DefaultQueueDepth
	DefaultAPITimeout = constants.DefaultAPITimeout
	MaxBufferID       = constants.MaxBufferID
	MaxSummaryEntries = constants.MaxSummaryEntries
	SummaryEntrySize  = constants.SummaryEntrySize
)
