// Package pubsub implements the hierarchical publish/subscribe bus
// (spec.md §4.2): a topic tree with retained values, retained
// metadata, flag-masked subscriber delivery, and retained-value
// replay on subscribe.
//
// A Bus is not safe for concurrent use by design — spec.md §5 "the
// pubsub tree is accessed only on the frontend thread" — the frontend
// dispatcher is the sole owner and serializes every call onto its own
// goroutine.
package pubsub

import (
	"strings"
	"time"

	"github.com/jsdrv/jsdrv-go/internal/interfaces"
	"github.com/jsdrv/jsdrv-go/internal/jsdrverr"
	"github.com/jsdrv/jsdrv-go/internal/schema"
	"github.com/jsdrv/jsdrv-go/internal/value"
)

// Flags is the subscriber delivery-category bitmap (spec.md §3).
type Flags uint16

const (
	FlagRetain Flags = 1 << iota
	FlagPub
	FlagMetadataReq
	FlagMetadataRsp
	FlagQueryReq
	FlagQueryRsp
	FlagReturnCode
)

// kindForSuffix classifies a topic by its trailing modifier character
// (spec.md §3: "$" metadata response, "%" metadata request, "?" query
// request, "&" query response, "#" return code; no suffix is a normal
// publish).
func kindForSuffix(topic string) (base string, kind Flags) {
	if topic == "" {
		return topic, FlagPub
	}
	switch topic[len(topic)-1] {
	case '$':
		return topic[:len(topic)-1], FlagMetadataRsp
	case '%':
		return topic[:len(topic)-1], FlagMetadataReq
	case '?':
		return topic[:len(topic)-1], FlagQueryReq
	case '&':
		return topic[:len(topic)-1], FlagQueryRsp
	case '#':
		return topic[:len(topic)-1], FlagReturnCode
	default:
		return topic, FlagPub
	}
}

func segments(base string) []string {
	if base == "" {
		return nil
	}
	return strings.Split(base, "/")
}

// retainable reports whether no subtopic component begins with "!"
// (spec.md §3: "A subtopic beginning with ! marks the topic as
// non-retainable").
func retainable(segs []string) bool {
	for _, s := range segs {
		if strings.HasPrefix(s, "!") {
			return false
		}
	}
	return true
}

// Target is a subscriber callback. It returns a return-code byte; a
// non-zero return is logged but never propagated (spec.md §7: "the
// pubsub never raises through a subscriber callback").
type Target func(topic string, v value.Value) byte

// Subscriber is one registered delivery target (spec.md §3).
// Identity for coalescing, Unsubscribe, and UnsubscribeAll is the
// (ID, Context) pair — the Go analogue of the C API's
// (target function pointer, user context) tuple.
type Subscriber struct {
	ID      any
	Target  Target
	Context any
	Flags   Flags
}

func (s Subscriber) sameIdentity(o Subscriber) bool {
	return s.ID == o.ID && s.Context == o.Context
}

type node struct {
	name     string
	parent   *node
	children []*node
	byName   map[string]*node

	hasValue      bool
	retainedValue value.Value

	hasMeta      bool
	retainedMeta []byte

	subscribers []Subscriber
}

func newNode(name string, parent *node) *node {
	return &node{name: name, parent: parent, byName: make(map[string]*node)}
}

func (n *node) path() string {
	if n.parent == nil {
		return ""
	}
	parts := []string{}
	for cur := n; cur.parent != nil; cur = cur.parent {
		parts = append([]string{cur.name}, parts...)
	}
	return strings.Join(parts, "/")
}

// Bus is the topic tree root plus the pluggable logger/observer used
// to report delivery outcomes (spec.md §4.2, §9 "structured log
// record... with the same callback registration API").
type Bus struct {
	root     *node
	logger   interfaces.Logger
	observer interfaces.Observer
}

// New returns an empty Bus. logger/observer may be nil, in which case
// logging and metrics are silently skipped.
func New(logger interfaces.Logger, observer interfaces.Observer) *Bus {
	return &Bus{root: newNode("", nil), logger: logger, observer: observer}
}

func (b *Bus) getOrCreate(segs []string) *node {
	cur := b.root
	for _, s := range segs {
		child, ok := cur.byName[s]
		if !ok {
			child = newNode(s, cur)
			cur.byName[s] = child
			cur.children = append(cur.children, child)
		}
		cur = child
	}
	return cur
}

func (b *Bus) find(segs []string) (*node, bool) {
	cur := b.root
	for _, s := range segs {
		child, ok := cur.byName[s]
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

func (b *Bus) logf(err error, op, topic string) {
	if err == nil || b.logger == nil {
		return
	}
	b.logger.Warn(op+" failed", "topic", topic, "error", err.Error())
}

// Publish delivers v to topic, updating retained state and invoking
// every matching subscriber on the target node and every proper
// ancestor, nearest first (spec.md §4.2).
func (b *Bus) Publish(topic string, v value.Value) error {
	base, kind := kindForSuffix(topic)
	segs := segments(base)
	n := b.getOrCreate(segs)

	// Metadata is retained best-effort: a document failing the recognized-key
	// schema is logged and counted, not rejected — mirrors spec.md §7's
	// "failing subscriber... logged" policy rather than blocking the publish.
	metadataValid := true
	switch {
	case kind == FlagMetadataRsp:
		if _, err := schema.ValidateMetadata(v.Bytes()); err != nil {
			metadataValid = false
			if b.logger != nil {
				b.logger.Warn("retained metadata failed schema validation", "topic", topic, "error", err.Error())
			}
		}
		n.hasMeta = true
		n.retainedMeta = append([]byte(nil), v.Bytes()...)
	case v.Retain && retainable(segs):
		n.hasValue = true
		n.retainedValue = v.Clone()
	}

	for cur := n; cur != nil; cur = cur.parent {
		for _, sub := range cur.subscribers {
			if sub.Flags&kind == 0 {
				continue
			}
			if rc := sub.Target(topic, v.Clone()); rc != 0 && b.logger != nil {
				b.logger.Warn("subscriber returned error", "topic", topic, "code", int(rc))
			}
		}
	}

	if b.observer != nil {
		b.observer.ObservePublish(topic, v.Len(), metadataValid)
	}
	return nil
}

// Subscribe registers sub on topic's node, creating the node if
// needed. A subscriber with the same (ID, Context) identity already
// registered on that node is coalesced: its flags are updated in
// place rather than duplicated. When FlagRetain is set, retained
// descendants are replayed immediately in creation order, metadata
// before value at each node (spec.md §4.2).
func (b *Bus) Subscribe(topic string, sub Subscriber) {
	segs := segments(topic)
	n := b.getOrCreate(segs)

	for i, existing := range n.subscribers {
		if existing.sameIdentity(sub) {
			n.subscribers[i].Flags = sub.Flags
			n.subscribers[i].Target = sub.Target
			if sub.Flags&FlagRetain != 0 {
				b.replay(n, sub)
			}
			return
		}
	}
	n.subscribers = append(n.subscribers, sub)

	if sub.Flags&FlagRetain != 0 {
		b.replay(n, sub)
	}
}

func (b *Bus) replay(root *node, sub Subscriber) {
	var walk func(n *node)
	walk = func(n *node) {
		topic := n.path()
		if sub.Flags&FlagMetadataRsp != 0 && n.hasMeta {
			sub.Target(topic+"$", value.JSON(append([]byte(nil), n.retainedMeta...)))
		}
		if sub.Flags&FlagPub != 0 && n.hasValue {
			sub.Target(topic, n.retainedValue.Clone())
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(root)
}

// Unsubscribe removes subscribers matching (id, context) from topic's
// node only — not its descendants (spec.md §4.2).
func (b *Bus) Unsubscribe(topic string, id, context any) {
	n, ok := b.find(segments(topic))
	if !ok {
		return
	}
	removeMatching(n, id, context)
}

// UnsubscribeAll removes every subscriber entry across the whole tree
// matching (id, context) (spec.md §4.2).
func (b *Bus) UnsubscribeAll(id, context any) {
	var walk func(n *node)
	walk = func(n *node) {
		removeMatching(n, id, context)
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(b.root)
}

func removeMatching(n *node, id, context any) {
	kept := n.subscribers[:0]
	for _, s := range n.subscribers {
		if s.ID == id && s.Context == context {
			continue
		}
		kept = append(kept, s)
	}
	n.subscribers = kept
}

// Query returns the retained value at topic, or NotFound if the topic
// has never been retained-published (spec.md §4.2).
func (b *Bus) Query(topic string) (value.Value, error) {
	start := time.Now()
	n, ok := b.find(segments(topic))
	if !ok || !n.hasValue {
		err := jsdrverr.New("Query", topic, jsdrverr.CodeNotFound)
		b.logf(err, "Query", topic)
		if b.observer != nil {
			b.observer.ObserveQuery(topic, uint64(time.Since(start)), false)
		}
		return value.Value{}, err
	}
	if b.observer != nil {
		b.observer.ObserveQuery(topic, uint64(time.Since(start)), true)
	}
	return n.retainedValue.Clone(), nil
}

// QueryInto copies the retained string/json/binary value at topic
// into buf, returning the number of bytes written including a
// trailing NUL terminator. It fails with TooSmall if buf cannot hold
// the value plus terminator, NotFound if topic has no retained value,
// and ParameterInvalid if buf is nil (spec.md §4.2, §8 S2).
func (b *Bus) QueryInto(topic string, buf []byte) (int, error) {
	if buf == nil {
		return 0, jsdrverr.New("QueryInto", topic, jsdrverr.CodeParameterInvalid)
	}
	v, err := b.Query(topic)
	if err != nil {
		return 0, err
	}
	data := v.Bytes()
	need := len(data) + 1
	if need > len(buf) {
		return 0, jsdrverr.New("QueryInto", topic, jsdrverr.CodeTooSmall)
	}
	n := copy(buf, data)
	buf[n] = 0
	return need, nil
}

// Metadata returns the retained metadata document at topic, or
// NotFound if none has been published.
func (b *Bus) Metadata(topic string) (map[string]any, error) {
	n, ok := b.find(segments(topic))
	if !ok || !n.hasMeta {
		return nil, jsdrverr.New("Metadata", topic, jsdrverr.CodeNotFound)
	}
	return schema.ValidateMetadata(n.retainedMeta)
}
