// Package dht consolidates the per-namespace DHT write validators and
// replica selectors (C8) behind one key-prefix dispatch table, so a
// transport layer or a standalone verifier tool has a single entry
// point instead of importing offline/groupoffline/groupinfo directly
// to know which rule set applies to a given key.
package dht

import (
	"errors"
	"strings"

	"github.com/kiyeovo/kiyeovo/groupinfo"
	"github.com/kiyeovo/kiyeovo/groupoffline"
	"github.com/kiyeovo/kiyeovo/offline"
)

// ErrUnknownNamespace is returned when a key path doesn't match any
// registered namespace's prefix.
var ErrUnknownNamespace = errors.New("dht: key path does not match any known namespace")

// Namespace names one registered record kind for logging/metrics.
type Namespace string

const (
	NamespaceDirectOffline      Namespace = "direct-offline"
	NamespaceGroupOffline       Namespace = "group-offline"
	NamespaceGroupInfoLatest    Namespace = "group-info-latest"
	NamespaceGroupInfoVersioned Namespace = "group-info-versioned"
)

type entry struct {
	namespace Namespace
	prefix    string
	validate  func(keyPath string, raw []byte) (interface{}, error)
}

// registry is ordered most-specific-prefix-first: group-info-v and
// group-info-latest share no prefix collision with each other, but
// ordering by specificity keeps this safe if a future namespace's
// prefix is a substring of another's.
var registry = []entry{
	{
		namespace: NamespaceGroupInfoVersioned,
		prefix:    groupinfo.VersionedKeyPrefix,
		validate: func(keyPath string, raw []byte) (interface{}, error) {
			return groupinfo.ValidateVersioned(keyPath, raw)
		},
	},
	{
		namespace: NamespaceGroupInfoLatest,
		prefix:    groupinfo.LatestKeyPrefix,
		validate: func(keyPath string, raw []byte) (interface{}, error) {
			return groupinfo.ValidateLatest(keyPath, raw)
		},
	},
	{
		namespace: NamespaceGroupOffline,
		prefix:    groupoffline.BucketKeyPrefix,
		validate: func(keyPath string, raw []byte) (interface{}, error) {
			return groupoffline.Validate(keyPath, raw)
		},
	},
	{
		namespace: NamespaceDirectOffline,
		prefix:    offline.BucketKeyPrefix,
		validate: func(keyPath string, raw []byte) (interface{}, error) {
			return offline.Validate(keyPath, raw)
		},
	},
}

// NamespaceFor returns which registered namespace owns keyPath, or
// ("", false) if none does.
func NamespaceFor(keyPath string) (Namespace, bool) {
	for _, e := range registry {
		if strings.HasPrefix(keyPath, e.prefix) {
			return e.namespace, true
		}
	}
	return "", false
}

// Validate dispatches keyPath/raw to the owning namespace's validator
// and returns its parsed, verified record as the namespace-specific
// concrete type (*offline.OfflineStore, *groupoffline.GroupOfflineStore,
// *groupinfo.LatestPointer, or *groupinfo.VersionedRecord) behind the
// interface{} result — callers that know which namespace they're
// dealing with type-assert; generic callers (a DHT put-hook enforcing
// "reject invalid writes" without caring about content) just check the
// error.
func Validate(keyPath string, raw []byte) (interface{}, error) {
	for _, e := range registry {
		if strings.HasPrefix(keyPath, e.prefix) {
			return e.validate(keyPath, raw)
		}
	}
	return nil, ErrUnknownNamespace
}
