package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiyeovo/kiyeovo/pkg/storage"
)

// ContactStore implements storage.ContactStore
type ContactStore struct {
	mu       sync.RWMutex
	contacts map[string]*storage.Contact
}

func newContactStore() *ContactStore {
	return &ContactStore{contacts: make(map[string]*storage.Contact)}
}

func (c *ContactStore) Put(ctx context.Context, contact *storage.Contact) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *contact
	if cp.AddedAt.IsZero() {
		cp.AddedAt = time.Now()
	}
	c.contacts[contact.PeerID] = &cp
	return nil
}

func (c *ContactStore) Get(ctx context.Context, peerID string) (*storage.Contact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	contact, ok := c.contacts[peerID]
	if !ok {
		return nil, fmt.Errorf("contact not found: %s", peerID)
	}
	cp := *contact
	return &cp, nil
}

func (c *ContactStore) SetBlocked(ctx context.Context, peerID string, blocked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	contact, ok := c.contacts[peerID]
	if !ok {
		return fmt.Errorf("contact not found: %s", peerID)
	}
	contact.Blocked = blocked
	return nil
}

func (c *ContactStore) List(ctx context.Context) ([]*storage.Contact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	contacts := make([]*storage.Contact, 0, len(c.contacts))
	for _, contact := range c.contacts {
		cp := *contact
		contacts = append(contacts, &cp)
	}
	return contacts, nil
}
