package session

import (
	"testing"
	"time"
)

// FuzzSessionCreation fuzzes session creation across a range of MaxAge values.
func FuzzSessionCreation(f *testing.F) {
	f.Add(uint64(3600000)) // 1 hour
	f.Add(uint64(300000))  // 5 minutes
	f.Add(uint64(1000))    // 1 second
	f.Add(uint64(86400000)) // 24 hours

	secret := rb(32)

	f.Fuzz(func(t *testing.T, maxAge uint64) {
		if maxAge == 0 || maxAge > 604800000 { // 7 days max
			t.Skip()
		}

		mgr := NewManager()
		defer mgr.Close()

		cfg := Config{
			MaxAge:      time.Duration(maxAge) * time.Millisecond,
			IdleTimeout: 5 * time.Minute,
			MaxMessages: 0,
		}

		sess, err := mgr.CreateSessionWithConfig("fuzz-session", secret, cfg)
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if sess.GetID() == "" {
			t.Fatal("session id is empty")
		}

		retrieved, ok := mgr.GetSession(sess.GetID())
		if !ok {
			t.Fatalf("failed to retrieve session")
		}
		if retrieved.GetID() != sess.GetID() {
			t.Fatal("session ids don't match")
		}
	})
}

// FuzzSessionEncryptDecrypt fuzzes the AEAD round-trip and tamper detection.
func FuzzSessionEncryptDecrypt(f *testing.F) {
	f.Add([]byte("hello"))
	f.Add([]byte(""))
	f.Add([]byte("a"))
	f.Add(make([]byte, 1024))
	f.Add(make([]byte, 65536))

	mgr := NewManager()
	secret := rb(32)
	sess, err := mgr.CreateSession("fuzz-encrypt", secret)
	if err != nil {
		f.Fatalf("failed to create session: %v", err)
	}

	f.Fuzz(func(t *testing.T, plaintext []byte) {
		encrypted, err := sess.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("failed to encrypt: %v", err)
		}

		decrypted, err := sess.Decrypt(encrypted)
		if err != nil {
			t.Fatalf("failed to decrypt: %v", err)
		}

		if !equalBytes(plaintext, decrypted) {
			t.Fatal("decrypted data doesn't match original")
		}

		if len(encrypted) > 0 {
			modified := make([]byte, len(encrypted))
			copy(modified, encrypted)
			modified[0] ^= 0xFF

			if _, err := sess.Decrypt(modified); err == nil {
				t.Fatal("decryption succeeded with modified ciphertext")
			}
		}
	})
}

// FuzzReplayGuard fuzzes the per-keyid nonce replay guard.
func FuzzReplayGuard(f *testing.F) {
	f.Add("keyid-1", "nonce-1")
	f.Add("keyid-2", "nonce-2")
	f.Add("", "")

	mgr := NewManager()
	defer mgr.Close()

	f.Fuzz(func(t *testing.T, keyid, nonce string) {
		first := mgr.ReplayGuardSeenOnce(keyid, nonce)
		second := mgr.ReplayGuardSeenOnce(keyid, nonce)
		if !first && second {
			t.Fatal("replay attack: same (keyid, nonce) not flagged on second use")
		}
	})
}

// FuzzSessionExpiration fuzzes session expiration under varying idle timeouts.
func FuzzSessionExpiration(f *testing.F) {
	f.Add(uint64(100), uint64(50))
	f.Add(uint64(1000), uint64(500))
	f.Add(uint64(5000), uint64(2500))

	secret := rb(32)

	f.Fuzz(func(t *testing.T, maxAge, idleTimeout uint64) {
		if maxAge == 0 || idleTimeout == 0 || maxAge > 86400000 || idleTimeout > 86400000 {
			t.Skip()
		}

		mgr := NewManager()
		defer mgr.Close()

		cfg := Config{
			MaxAge:      time.Duration(maxAge) * time.Millisecond,
			IdleTimeout: time.Duration(idleTimeout) * time.Millisecond,
		}

		sess, err := mgr.CreateSessionWithConfig("fuzz-expiry", secret, cfg)
		if err != nil {
			t.Fatalf("failed to create session: %v", err)
		}

		sessionID := sess.GetID()

		if _, ok := mgr.GetSession(sessionID); !ok {
			t.Fatal("session should exist immediately after creation")
		}

		time.Sleep(time.Duration(idleTimeout+50) * time.Millisecond)

		// GetSession evicts expired sessions lazily; either outcome here
		// is fine depending on whether background cleanup already ran.
		_, _ = mgr.GetSession(sessionID)
	})
}

// FuzzConcurrentSessionAccess fuzzes concurrent encrypt/decrypt on one session.
func FuzzConcurrentSessionAccess(f *testing.F) {
	f.Add([]byte("data1"), []byte("data2"))

	mgr := NewManager()
	secret := rb(32)
	sess, err := mgr.CreateSession("fuzz-concurrent", secret)
	if err != nil {
		f.Fatalf("failed to create session: %v", err)
	}

	f.Fuzz(func(t *testing.T, data1, data2 []byte) {
		done := make(chan bool, 2)

		go func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("panic in goroutine 1: %v", r)
				}
				done <- true
			}()
			encrypted, err := sess.Encrypt(data1)
			if err != nil {
				return
			}
			_, _ = sess.Decrypt(encrypted)
		}()

		go func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("panic in goroutine 2: %v", r)
				}
				done <- true
			}()
			encrypted, err := sess.Encrypt(data2)
			if err != nil {
				return
			}
			_, _ = sess.Decrypt(encrypted)
		}()

		<-done
		<-done
	})
}

// FuzzInvalidSessionData fuzzes decryption of garbage input.
func FuzzInvalidSessionData(f *testing.F) {
	f.Add([]byte("random"), []byte("data"))

	mgr := NewManager()
	secret := rb(32)
	sess, err := mgr.CreateSession("fuzz-invalid", secret)
	if err != nil {
		f.Fatalf("failed to create session: %v", err)
	}

	f.Fuzz(func(t *testing.T, invalidData []byte, garbage []byte) {
		_, err := sess.Decrypt(invalidData)
		_ = err // must not panic

		fakeSessionID := string(garbage)
		_, ok := mgr.GetSession(fakeSessionID)
		_ = ok
	})
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
