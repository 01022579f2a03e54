package identity

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/kiyeovo/kiyeovo/errs"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ScryptN = 1 << 10 // cheap for tests
	cfg.LoadTimeout = 5 * time.Second
	return cfg
}

func TestCreateGeneratesDistinctKeys(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)
	require.NotEmpty(t, id.PeerID)
	require.NotEqual(t, id.IdentityKey.PublicKey(), id.SigningKey.PublicKey())
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)

	v := NewVault(NewMemoryStore(), testConfig())
	_, err = v.Save(id, "Sup3rSecret!Pass", false)
	require.NoError(t, err)

	loaded, err := v.Load(context.Background(), id.PeerID, "Sup3rSecret!Pass")
	require.NoError(t, err)
	require.Equal(t, id.PeerID, loaded.PeerID)
	require.Equal(t, id.IdentityKey.PublicKey(), loaded.IdentityKey.PublicKey())
	require.Equal(t, id.OfflineKey.PublicKey(), loaded.OfflineKey.PublicKey())
}

func TestSaveRejectsWeakPassword(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)

	v := NewVault(NewMemoryStore(), testConfig())
	_, err = v.Save(id, "short", false)
	require.ErrorIs(t, err, ErrWeakPassword)
}

func TestLoadWrongPasswordFails(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)

	v := NewVault(NewMemoryStore(), testConfig())
	_, err = v.Save(id, "Sup3rSecret!Pass", false)
	require.NoError(t, err)

	_, err = v.Load(context.Background(), id.PeerID, "WrongPassword!1")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CryptoAuthFailed))
}

func TestLoadCooldownAfterRepeatedFailures(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.MaxFailedAttempts = 2
	cfg.CooldownDuration = time.Hour
	v := NewVault(NewMemoryStore(), cfg)
	_, err = v.Save(id, "Sup3rSecret!Pass", false)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = v.Load(context.Background(), id.PeerID, "WrongPassword!1")
		require.Error(t, err)
	}

	_, err = v.Load(context.Background(), id.PeerID, "Sup3rSecret!Pass")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.RateLimited))
}

func TestSaveWithRecoveryAndLoadWithRecovery(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)

	v := NewVault(NewMemoryStore(), testConfig())
	mnemonic, err := v.Save(id, "Sup3rSecret!Pass", true)
	require.NoError(t, err)
	require.NotEmpty(t, mnemonic)

	loaded, err := v.LoadWithRecovery(context.Background(), id.PeerID, mnemonic)
	require.NoError(t, err)
	require.Equal(t, id.PeerID, loaded.PeerID)
}

func TestRotateNotifyKeyReplacesKeyAndPersists(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)
	oldNotify := id.NotifyKey

	v := NewVault(NewMemoryStore(), testConfig())
	_, err = v.Save(id, "Sup3rSecret!Pass", false)
	require.NoError(t, err)

	require.NoError(t, v.RotateNotifyKey(id, "Sup3rSecret!Pass"))
	require.NotEqual(t, oldNotify.ID(), id.NotifyKey.ID())
	require.Equal(t, oldNotify.Type(), id.NotifyKey.Type())

	loaded, err := v.Load(context.Background(), id.PeerID, "Sup3rSecret!Pass")
	require.NoError(t, err)
	require.Equal(t, id.NotifyKey.PublicKey(), loaded.NotifyKey.PublicKey())
}

func TestLoadWithRecoveryRejectsInvalidPhrase(t *testing.T) {
	v := NewVault(NewMemoryStore(), testConfig())
	_, err := v.LoadWithRecovery(context.Background(), "peer1xyz", "not a real mnemonic phrase at all")
	require.Error(t, err)
}

func TestLoadDetectsCorruptIdentity(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)

	store := NewMemoryStore()
	v := NewVault(store, testConfig())
	_, err = v.Save(id, "Sup3rSecret!Pass", false)
	require.NoError(t, err)

	other, err := Create()
	require.NoError(t, err)
	otherV := NewVault(NewMemoryStore(), testConfig())
	_, err = otherV.Save(other, "Sup3rSecret!Pass", false)
	require.NoError(t, err)

	// Splice another identity's ciphertext under this peer id's record
	// to simulate a corrupted/swapped vault file.
	swapped, err := otherV.store.LoadRecord(other.PeerID)
	require.NoError(t, err)
	require.NoError(t, store.SaveRecord(id.PeerID, swapped))

	_, err = v.Load(context.Background(), id.PeerID, "Sup3rSecret!Pass")
	require.Error(t, err)
}

func TestValidatePasswordPolicy(t *testing.T) {
	require.NoError(t, ValidatePasswordPolicy("Sup3rSecret!Pass"))
	require.Error(t, ValidatePasswordPolicy("alllowercase1!"))
	require.Error(t, ValidatePasswordPolicy("ALLUPPERCASE1!"))
	require.Error(t, ValidatePasswordPolicy("NoDigitsHere!!"))
	require.Error(t, ValidatePasswordPolicy("NoSymbols1234"))
	require.Error(t, ValidatePasswordPolicy("Sh0rt!"))
}

func TestSignAndVerify(t *testing.T) {
	id, err := Create()
	require.NoError(t, err)

	msg := []byte("hello kiyeovo")
	sig, err := Sign(id, msg)
	require.NoError(t, err)

	pub, ok := id.SigningKey.PublicKey().(ed25519.PublicKey)
	require.True(t, ok)
	require.NoError(t, Verify(msg, sig, pub))

	require.Error(t, Verify([]byte("tampered"), sig, pub))
}
