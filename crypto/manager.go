package crypto

import "fmt"

// Generator creates a new key pair of a specific type. Concrete
// generators live in crypto/keys; Manager is wired to them by the
// caller (see keyManager in identity/vault.go) to avoid an import cycle between
// crypto and crypto/keys.
type Generator func() (KeyPair, error)

// Manager provides centralized generation and storage of the four key
// pairs an identity holds: the libp2p identity key, the application
// signing key, and the two RSA-3072 sealing keys.
type Manager struct {
	storage    KeyStorage
	generators map[KeyType]Generator
}

// NewManager creates a new crypto manager backed by the given storage.
func NewManager(storage KeyStorage) *Manager {
	return &Manager{
		storage:    storage,
		generators: make(map[KeyType]Generator),
	}
}

// RegisterGenerator wires a key-type generator into the manager.
func (m *Manager) RegisterGenerator(kt KeyType, gen Generator) {
	m.generators[kt] = gen
}

// SetStorage sets the key storage backend.
func (m *Manager) SetStorage(storage KeyStorage) {
	m.storage = storage
}

// GenerateKeyPair generates a new key pair of the specified type.
func (m *Manager) GenerateKeyPair(keyType KeyType) (KeyPair, error) {
	gen, ok := m.generators[keyType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyType, keyType)
	}
	return gen()
}

// StoreKeyPair stores a key pair.
func (m *Manager) StoreKeyPair(keyPair KeyPair) error {
	return m.storage.Store(keyPair.ID(), keyPair)
}

// LoadKeyPair loads a key pair by ID.
func (m *Manager) LoadKeyPair(id string) (KeyPair, error) {
	return m.storage.Load(id)
}

// DeleteKeyPair deletes a key pair by ID.
func (m *Manager) DeleteKeyPair(id string) error {
	return m.storage.Delete(id)
}

// ListKeyPairs lists all stored key pair IDs.
func (m *Manager) ListKeyPairs() ([]string, error) {
	return m.storage.List()
}
