package state

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"reserveledger/core/types"
)

var (
	auditHeadKey     = []byte("audit/head")
	auditEntryPrefix = []byte("audit/entry/")
)

// AuditAttribute is one key/value pair of an audit entry. Attributes are kept
// sorted by key so the encoding is canonical.
type AuditAttribute struct {
	Key   string
	Value string
}

// AuditEntry is one append-only record of the audit log. Digest chains each
// entry to its predecessor so indexers can detect gaps or rewrites.
type AuditEntry struct {
	Seq        uint64
	Type       string
	Attributes []AuditAttribute
	Prev       [32]byte
	Digest     [32]byte
}

// Event converts the entry back into the generic event payload.
func (e *AuditEntry) Event() *types.Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for _, attr := range e.Attributes {
		attrs[attr.Key] = attr.Value
	}
	seq := e.Seq
	return &types.Event{Seq: &seq, Type: e.Type, Attributes: attrs}
}

// AuditHead describes the tip of the audit log.
type AuditHead struct {
	Count  uint64
	Digest [32]byte
}

type auditBody struct {
	Seq        uint64
	Type       string
	Attributes []AuditAttribute
}

func auditEntryKey(seq uint64) []byte {
	key := make([]byte, len(auditEntryPrefix)+8)
	copy(key, auditEntryPrefix)
	binary.BigEndian.PutUint64(key[len(auditEntryPrefix):], seq)
	return key
}

func canonicalAttributes(attrs map[string]string) []AuditAttribute {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]AuditAttribute, 0, len(keys))
	for _, k := range keys {
		out = append(out, AuditAttribute{Key: k, Value: attrs[k]})
	}
	return out
}

// ChainDigest computes the digest linking an entry body to its predecessor.
func ChainDigest(prev [32]byte, seq uint64, kind string, attrs []AuditAttribute) ([32]byte, error) {
	encoded, err := rlp.EncodeToBytes(auditBody{Seq: seq, Type: kind, Attributes: attrs})
	if err != nil {
		return [32]byte{}, err
	}
	buf := make([]byte, 0, len(prev)+len(encoded))
	buf = append(buf, prev[:]...)
	buf = append(buf, encoded...)
	return blake3.Sum256(buf), nil
}

// AuditHead returns the current tip of the audit log.
func (m *Manager) AuditHead() (AuditHead, error) {
	var head AuditHead
	if _, err := m.KVGet(auditHeadKey, &head); err != nil {
		return AuditHead{}, err
	}
	return head, nil
}

// AppendAudit appends the event to the audit log and returns the stored entry.
func (m *Manager) AppendAudit(evt *types.Event) (*AuditEntry, error) {
	if evt == nil {
		return nil, fmt.Errorf("audit: event must not be nil")
	}
	head, err := m.AuditHead()
	if err != nil {
		return nil, err
	}
	attrs := canonicalAttributes(evt.Attributes)
	digest, err := ChainDigest(head.Digest, head.Count, evt.Type, attrs)
	if err != nil {
		return nil, err
	}
	entry := &AuditEntry{
		Seq:        head.Count,
		Type:       evt.Type,
		Attributes: attrs,
		Prev:       head.Digest,
		Digest:     digest,
	}
	if err := m.KVCreate(auditEntryKey(entry.Seq), entry); err != nil {
		return nil, fmt.Errorf("audit: append %d: %w", entry.Seq, err)
	}
	if err := m.KVPut(auditHeadKey, AuditHead{Count: head.Count + 1, Digest: digest}); err != nil {
		return nil, err
	}
	return entry, nil
}

// AuditEntries returns up to limit entries starting at sequence from.
func (m *Manager) AuditEntries(from uint64, limit int) ([]*AuditEntry, error) {
	head, err := m.AuditHead()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	out := make([]*AuditEntry, 0)
	for seq := from; seq < head.Count && len(out) < limit; seq++ {
		entry := new(AuditEntry)
		ok, err := m.KVGet(auditEntryKey(seq), entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("audit: missing entry %d", seq)
		}
		out = append(out, entry)
	}
	return out, nil
}

// VerifyAuditChain recomputes the digest of every entry in order and reports
// the first inconsistency.
func VerifyAuditChain(entries []*AuditEntry) error {
	for i, entry := range entries {
		if i > 0 && entry.Prev != entries[i-1].Digest {
			return fmt.Errorf("audit: entry %d does not link to %d", entry.Seq, entries[i-1].Seq)
		}
		digest, err := ChainDigest(entry.Prev, entry.Seq, entry.Type, entry.Attributes)
		if err != nil {
			return err
		}
		if digest != entry.Digest {
			return fmt.Errorf("audit: entry %d digest mismatch", entry.Seq)
		}
	}
	return nil
}
