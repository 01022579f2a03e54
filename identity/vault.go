package identity

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode"

	kiyeocrypto "github.com/kiyeovo/kiyeovo/crypto"
	"github.com/kiyeovo/kiyeovo/crypto/keys"
	"github.com/kiyeovo/kiyeovo/crypto/rotation"
	cryptostorage "github.com/kiyeovo/kiyeovo/crypto/storage"
	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/kiyeovo/kiyeovo/internal/logger"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/scrypt"
)

const scryptSaltLen = 16
const gcmNonceLen = 12

// keyManager centralizes the generators Create needs behind
// crypto.Manager instead of calling crypto/keys directly: one per key
// type, three in all, the RSA-3072 one serving both the offline and
// the notification key. Identity
// generation and any future key-storage-backed rotation share one
// registration point. It holds no storage backend: Create only ever
// calls GenerateKeyPair, never Store/Load/Delete/List.
var keyManager = newIdentityKeyManager()

func newIdentityKeyManager() *kiyeocrypto.Manager {
	m := kiyeocrypto.NewManager(nil)
	m.RegisterGenerator(kiyeocrypto.KeyTypeEd25519Identity, keys.GenerateEd25519IdentityKeyPair)
	m.RegisterGenerator(kiyeocrypto.KeyTypeEd25519Signing, keys.GenerateEd25519SigningKeyPair)
	m.RegisterGenerator(kiyeocrypto.KeyTypeRSA3072, keys.GenerateRSAKeyPair)
	return m
}

// Vault generates, encrypts, and reloads a single user's identity.
type Vault struct {
	store  Store
	cfg    Config
	log    logger.Logger

	mu            sync.Mutex
	failedCount   map[string]int
	cooldownUntil map[string]time.Time
}

// NewVault creates a Vault backed by store.
func NewVault(store Store, cfg Config) *Vault {
	return &Vault{
		store:         store,
		cfg:           cfg,
		log:           logger.GetDefaultLogger(),
		failedCount:   make(map[string]int),
		cooldownUntil: make(map[string]time.Time),
	}
}

// Create generates a fresh Identity: an Ed25519 libp2p peer keypair,
// a second Ed25519 application-signing keypair, and two RSA-3072
// sealing keypairs (offline messages, notifications). peer_id is the
// content hash of the identity key's public key.
func Create() (*Identity, error) {
	identityKey, err := keyManager.GenerateKeyPair(kiyeocrypto.KeyTypeEd25519Identity)
	if err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Create", fmt.Errorf("generate identity key: %w", err))
	}
	signingKey, err := keyManager.GenerateKeyPair(kiyeocrypto.KeyTypeEd25519Signing)
	if err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Create", fmt.Errorf("generate signing key: %w", err))
	}
	offlineKey, err := keyManager.GenerateKeyPair(kiyeocrypto.KeyTypeRSA3072)
	if err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Create", fmt.Errorf("generate offline key: %w", err))
	}
	notifyKey, err := keyManager.GenerateKeyPair(kiyeocrypto.KeyTypeRSA3072)
	if err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Create", fmt.Errorf("generate notify key: %w", err))
	}

	pub, ok := identityKey.PublicKey().(ed25519.PublicKey)
	if !ok {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Create", fmt.Errorf("unexpected identity public key type"))
	}
	peerID := PeerIDFromPublicKey(pub)

	return &Identity{
		PeerID:      peerID,
		IdentityKey: identityKey,
		SigningKey:  signingKey,
		OfflineKey:  offlineKey,
		NotifyKey:   notifyKey,
	}, nil
}

// PeerIDFromPublicKey derives the content-addressed peer ID from a
// raw Ed25519 public key.
func PeerIDFromPublicKey(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return "peer1" + hexEncode(h[:20])
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

// ValidatePasswordPolicy enforces: at least 12 characters, and at
// least one lowercase, uppercase, digit, and non-alphanumeric rune.
func ValidatePasswordPolicy(password string) error {
	if len(password) < 12 {
		return ErrWeakPassword
	}
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSymbol = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return ErrWeakPassword
	}
	return nil
}

// Save serializes id's keys to plaintext JSON, derives a scrypt key
// from password, and encrypts with AES-256-GCM under a fresh 12-byte
// nonce. Password policy is enforced here (creation time only). When
// withRecovery is true, a BIP-39 mnemonic is generated and a parallel
// record is saved under peer_id+"-recovery", encrypted with the first
// 32 bytes of the mnemonic's seed in place of a scrypt-derived key.
// Returns the mnemonic (empty if withRecovery is false).
func (v *Vault) Save(id *Identity, password string, withRecovery bool) (string, error) {
	if err := ValidatePasswordPolicy(password); err != nil {
		return "", err
	}

	plain, err := marshalPlaintext(id)
	if err != nil {
		return "", errs.New(errs.CorruptIdentity, "Vault.Save", err)
	}

	salt := make([]byte, scryptSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errs.New(errs.CorruptIdentity, "Vault.Save", fmt.Errorf("generate salt: %w", err))
	}
	key, err := scrypt.Key([]byte(password), salt, v.cfg.ScryptN, 8, 1, 32)
	if err != nil {
		return "", errs.New(errs.CorruptIdentity, "Vault.Save", fmt.Errorf("scrypt: %w", err))
	}

	rec, err := sealRecord(id.PeerID, key, salt, plain)
	if err != nil {
		return "", err
	}
	if err := v.saveRecord(id.PeerID, rec); err != nil {
		return "", err
	}

	var mnemonic string
	if withRecovery {
		mnemonic, err = v.saveRecoveryRecord(id.PeerID, plain)
		if err != nil {
			return "", err
		}
	}
	return mnemonic, nil
}

func (v *Vault) saveRecoveryRecord(peerID string, plain []byte) (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", errs.New(errs.CorruptIdentity, "Vault.Save", fmt.Errorf("generate entropy: %w", err))
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errs.New(errs.CorruptIdentity, "Vault.Save", fmt.Errorf("generate mnemonic: %w", err))
	}
	seed := bip39.NewSeed(mnemonic, "")
	recoveryKey := seed[:32]

	salt := make([]byte, scryptSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", errs.New(errs.CorruptIdentity, "Vault.Save", fmt.Errorf("generate salt: %w", err))
	}

	rec, err := sealRecord(peerID, recoveryKey, salt, plain)
	if err != nil {
		return "", err
	}
	if err := v.saveRecord(peerID+recoverySuffix, rec); err != nil {
		return "", err
	}
	return mnemonic, nil
}

func sealRecord(peerID string, key, salt, plain []byte) (*record, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Save", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Save", err)
	}
	nonce := make([]byte, gcmNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Save", fmt.Errorf("generate nonce: %w", err))
	}
	ciphertext := aead.Seal(nil, nonce, plain, nil)
	return &record{PeerID: peerID, Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func (v *Vault) saveRecord(id string, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.CorruptIdentity, "Vault.Save", err)
	}
	if err := v.store.SaveRecord(id, data); err != nil {
		return errs.New(errs.CorruptIdentity, "Vault.Save", err)
	}
	return nil
}

// Load decrypts the vault record for peerID using password, running
// the scrypt derivation and GCM decryption in a worker goroutine
// bounded by cfg.LoadTimeout. A wrong password (GCM tag mismatch)
// counts as a failed attempt; after MaxFailedAttempts consecutive
// failures, Load refuses with ErrInCooldown without attempting
// derivation until CooldownDuration elapses.
func (v *Vault) Load(ctx context.Context, peerID, password string) (*Identity, error) {
	if until, ok := v.inCooldown(peerID); ok {
		return nil, errs.New(errs.RateLimited, "Vault.Load", fmt.Errorf("%w: until %s", ErrInCooldown, until))
	}

	data, err := v.store.LoadRecord(peerID)
	if err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Load", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.Load", err)
	}

	id, err := v.unlockWithPassword(ctx, &rec, password)
	if err != nil {
		v.recordFailure(peerID)
		return nil, err
	}
	v.clearFailures(peerID)
	return id, nil
}

// LoadWithRecovery decrypts the recovery record for peerID using a
// BIP-39 mnemonic phrase instead of the user's password.
func (v *Vault) LoadWithRecovery(ctx context.Context, peerID, phrase string) (*Identity, error) {
	if !bip39.IsMnemonicValid(phrase) {
		return nil, errs.New(errs.ProtocolViolation, "Vault.LoadWithRecovery", fmt.Errorf("invalid recovery phrase"))
	}

	data, err := v.store.LoadRecord(peerID + recoverySuffix)
	if err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.LoadWithRecovery", fmt.Errorf("%w: %v", ErrNoRecoveryRecord, err))
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.New(errs.CorruptIdentity, "Vault.LoadWithRecovery", err)
	}

	seed := bip39.NewSeed(phrase, "")
	key := seed[:32]

	type result struct {
		id  *Identity
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		id, err := decryptRecord(&rec, key)
		resCh <- result{id, err}
	}()

	timeout := v.cfg.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().LoadTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, errs.New(errs.CryptoAuthFailed, "Vault.LoadWithRecovery", res.err)
		}
		return res.id, nil
	case <-loadCtx.Done():
		return nil, errs.New(errs.CryptoTimeout, "Vault.LoadWithRecovery", loadCtx.Err())
	}
}

func (v *Vault) unlockWithPassword(ctx context.Context, rec *record, password string) (*Identity, error) {
	type result struct {
		id  *Identity
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		key, err := scrypt.Key([]byte(password), rec.Salt, v.cfg.ScryptN, 8, 1, 32)
		if err != nil {
			resCh <- result{nil, fmt.Errorf("scrypt: %w", err)}
			return
		}
		id, err := decryptRecord(rec, key)
		resCh <- result{id, err}
	}()

	timeout := v.cfg.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().LoadTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, errs.New(errs.CryptoAuthFailed, "Vault.Load", res.err)
		}
		return res.id, nil
	case <-loadCtx.Done():
		return nil, errs.New(errs.CryptoTimeout, "Vault.Load", loadCtx.Err())
	}
}

func decryptRecord(rec *record, key []byte) (*Identity, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, rec.Nonce, rec.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	var pk plaintextKeys
	if err := json.Unmarshal(plain, &pk); err != nil {
		return nil, fmt.Errorf("unmarshal plaintext keys: %w", err)
	}

	id, err := unmarshalPlaintext(&pk)
	if err != nil {
		return nil, err
	}
	if id.PeerID != rec.PeerID {
		return nil, ErrCorruptIdentity
	}
	return id, nil
}

func (v *Vault) inCooldown(peerID string) (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	until, ok := v.cooldownUntil[peerID]
	if !ok || time.Now().After(until) {
		return time.Time{}, false
	}
	return until, true
}

func (v *Vault) recordFailure(peerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failedCount[peerID]++
	maxAttempts := v.cfg.MaxFailedAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig().MaxFailedAttempts
	}
	if v.failedCount[peerID] >= maxAttempts {
		cooldown := v.cfg.CooldownDuration
		if cooldown <= 0 {
			cooldown = DefaultConfig().CooldownDuration
		}
		v.cooldownUntil[peerID] = time.Now().Add(cooldown)
	}
}

func (v *Vault) clearFailures(peerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.failedCount, peerID)
	delete(v.cooldownUntil, peerID)
}

func marshalPlaintext(id *Identity) ([]byte, error) {
	identityPriv, ok := id.IdentityKey.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected identity private key type")
	}
	signingPriv, ok := id.SigningKey.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected signing private key type")
	}
	offlinePriv, ok := id.OfflineKey.PrivateKey().(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected offline private key type")
	}
	notifyPriv, ok := id.NotifyKey.PrivateKey().(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected notify private key type")
	}

	pk := plaintextKeys{
		PeerID:           id.PeerID,
		IdentityPriv:     []byte(identityPriv),
		SigningPriv:      []byte(signingPriv),
		OfflinePrivPKCS1: x509.MarshalPKCS1PrivateKey(offlinePriv),
		NotifyPrivPKCS1:  x509.MarshalPKCS1PrivateKey(notifyPriv),
	}
	return json.Marshal(pk)
}

func unmarshalPlaintext(pk *plaintextKeys) (*Identity, error) {
	if len(pk.IdentityPriv) != ed25519.PrivateKeySize || len(pk.SigningPriv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad ed25519 key length in vault record")
	}

	identityKey, err := keys.NewEd25519IdentityFromPrivateKey(ed25519.PrivateKey(pk.IdentityPriv))
	if err != nil {
		return nil, fmt.Errorf("reconstruct identity key: %w", err)
	}
	signingKey, err := keys.NewEd25519SigningFromPrivateKey(ed25519.PrivateKey(pk.SigningPriv))
	if err != nil {
		return nil, fmt.Errorf("reconstruct signing key: %w", err)
	}

	offlinePriv, err := x509.ParsePKCS1PrivateKey(pk.OfflinePrivPKCS1)
	if err != nil {
		return nil, fmt.Errorf("parse offline key: %w", err)
	}
	notifyPriv, err := x509.ParsePKCS1PrivateKey(pk.NotifyPrivPKCS1)
	if err != nil {
		return nil, fmt.Errorf("parse notify key: %w", err)
	}

	return &Identity{
		PeerID:      pk.PeerID,
		IdentityKey: identityKey,
		SigningKey:  signingKey,
		OfflineKey:  keys.NewRSAKeyPairFromPrivateKey(offlinePriv),
		NotifyKey:   keys.NewRSAKeyPairFromPrivateKey(notifyPriv),
	}, nil
}

// RotateNotifyKey replaces id's push-notification sealing key with a
// freshly generated RSA-3072 key pair using crypto/rotation's
// KeyRotator, then re-persists the whole identity under password. The
// rotator needs a KeyStorage to load the "old" key from, so the
// current NotifyKey is seeded into a throwaway in-memory store rather
// than keeping a dedicated on-disk key store just for this one key.
func (v *Vault) RotateNotifyKey(id *Identity, password string) error {
	ephemeral := cryptostorage.NewMemoryKeyStorage()
	if err := ephemeral.Store(id.PeerID, id.NotifyKey); err != nil {
		return errs.New(errs.CorruptIdentity, "Vault.RotateNotifyKey", err)
	}
	newKey, err := rotation.NewKeyRotator(ephemeral).Rotate(id.PeerID)
	if err != nil {
		return errs.New(errs.CorruptIdentity, "Vault.RotateNotifyKey", fmt.Errorf("rotate notify key: %w", err))
	}
	id.NotifyKey = newKey

	if _, err := v.Save(id, password, false); err != nil {
		return errs.New(errs.CorruptIdentity, "Vault.RotateNotifyKey", fmt.Errorf("persist rotated identity: %w", err))
	}
	return nil
}

// Sign signs msg with id's application signing key.
func Sign(id *Identity, msg []byte) ([]byte, error) {
	sig, err := id.SigningKey.Sign(msg)
	if err != nil {
		return nil, errs.New(errs.CryptoAuthFailed, "identity.Sign", err)
	}
	return sig, nil
}

// Verify checks msg against sig using a raw Ed25519 public key.
func Verify(msg, sig []byte, pub ed25519.PublicKey) error {
	if err := keys.VerifyWithPublicKey(pub, msg, sig); err != nil {
		return errs.New(errs.CryptoAuthFailed, "identity.Verify", err)
	}
	return nil
}
