package uapi

// Wire format version for every struct in this package. Bumped only
// on a breaking layout change. Unmarshal copies the Version field as
// read and does not reject any value.
//
// v2 added BufferRequest.Length, the summary-query window count
// (spec.md §4.5's length-driven incr algorithm).
const WireVersion uint8 = 2
