package groupinfo

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/kiyeovo/kiyeovo/transport"
)

// Publisher is the group creator's collaborator for appending a new
// versioned record to the hash chain and re-pointing the latest
// pointer at it.
type Publisher struct {
	creatorSigningKey ed25519.PrivateKey
	dht               transport.Transport
	log               logger.Logger
}

// NewPublisher builds a Publisher for the group's creator.
func NewPublisher(creatorSigningKey ed25519.PrivateKey, dht transport.Transport) *Publisher {
	return &Publisher{creatorSigningKey: creatorSigningKey, dht: dht, log: logger.GetDefaultLogger()}
}

// PublishVersion appends a new versioned record chained off prev
// (nil for the group's first version) and updates the latest
// pointer. members/memberPubKeys/boundaries describe the new
// version's canonical state.
func (p *Publisher) PublishVersion(ctx context.Context, groupID string, members []string, memberPubKeys map[string]string, boundaries map[string]int64, prev *VersionedRecord) (*VersionedRecord, error) {
	version := 1
	var prevHash []byte
	if prev != nil {
		version = prev.Version + 1
		prevHash = prev.StateHash
	}

	creatorPub := p.creatorSigningKey.Public().(ed25519.PublicKey)
	record := &VersionedRecord{
		GroupID:              groupID,
		Version:              version,
		PrevVersionHash:      prevHash,
		Members:              append([]string(nil), members...),
		MemberSigningPubKeys: memberPubKeys,
		ActivatedAt:          time.Now().UnixMilli(),
		SenderSeqBoundaries:  boundaries,
	}
	record.StateHash = computeStateHash(record)
	record.CreatorSignature = signVersioned(p.creatorSigningKey, record)

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal versioned record: %w", err)
	}
	versionedKey := VersionedKey(groupID, creatorPub, version)
	if err := p.put(ctx, versionedKey, payload); err != nil {
		return nil, fmt.Errorf("publish versioned record: %w", err)
	}

	latest := &LatestPointer{
		GroupID:         groupID,
		LatestVersion:   version,
		LatestStateHash: record.StateHash,
		LastUpdated:     time.Now().UnixMilli(),
	}
	latest.CreatorSignature = signLatest(p.creatorSigningKey, latest)
	latestPayload, err := json.Marshal(latest)
	if err != nil {
		return nil, fmt.Errorf("marshal latest pointer: %w", err)
	}
	if err := p.put(ctx, LatestKey(groupID, creatorPub), latestPayload); err != nil {
		return nil, fmt.Errorf("publish latest pointer: %w", err)
	}

	return record, nil
}

func (p *Publisher) put(ctx context.Context, key string, value []byte) error {
	events, err := p.dht.DHTPut(ctx, key, value)
	if err != nil {
		return err
	}
	acked := false
	for ev := range events {
		if ev.Err != nil {
			return ev.Err
		}
		if ev.Kind == transport.EventPeerResponse {
			acked = true
		}
	}
	if !acked {
		return errs.New(errs.DhtPutNoPeers, "Publisher.put", fmt.Errorf("no peers acknowledged %s", key))
	}
	return nil
}

// Fetcher reads group info records for any peer, creator or not.
type Fetcher struct {
	dht transport.Transport
	log logger.Logger
}

// NewFetcher builds a Fetcher.
func NewFetcher(dht transport.Transport) *Fetcher {
	return &Fetcher{dht: dht, log: logger.GetDefaultLogger()}
}

// FetchLatest reads every replica of the latest pointer and returns
// the one the selector prefers.
func (f *Fetcher) FetchLatest(ctx context.Context, groupID string, creatorPub ed25519.PublicKey) (*LatestPointer, error) {
	key := LatestKey(groupID, creatorPub)
	events, err := f.dht.DHTGet(ctx, key)
	if err != nil {
		return nil, err
	}
	var best *LatestPointer
	for ev := range events {
		if ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Kind != transport.EventValue {
			continue
		}
		candidate, err := ValidateLatest(key, ev.Value)
		if err != nil {
			f.log.Warn("groupinfo: dropping invalid latest pointer replica", logger.String("group_id", groupID), logger.Error(err))
			continue
		}
		selected, err := SelectLatest(best, candidate)
		if err != nil {
			f.log.Warn("groupinfo: dropping diverged latest pointer replica", logger.String("group_id", groupID), logger.Error(err))
			continue
		}
		best = selected
	}
	return best, nil
}

// FetchVersion reads one immutable versioned record. Since the
// namespace's update rule is byte-identical re-publish only, any
// validated replica is authoritative.
func (f *Fetcher) FetchVersion(ctx context.Context, groupID string, creatorPub ed25519.PublicKey, version int) (*VersionedRecord, error) {
	key := VersionedKey(groupID, creatorPub, version)
	events, err := f.dht.DHTGet(ctx, key)
	if err != nil {
		return nil, err
	}
	var found *VersionedRecord
	for ev := range events {
		if ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Kind != transport.EventValue {
			continue
		}
		record, err := ValidateVersioned(key, ev.Value)
		if err != nil {
			f.log.Warn("groupinfo: dropping invalid versioned record replica", logger.String("group_id", groupID), logger.Error(err))
			continue
		}
		found = record
	}
	if found == nil {
		return nil, fmt.Errorf("groupinfo: no valid versioned record found for %s v%d", groupID, version)
	}
	return found, nil
}
