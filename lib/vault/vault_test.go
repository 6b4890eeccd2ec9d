// vault_test.go tests wallet creation, import, unlock and export against an in-memory store.
package vault

import (
	"errors"
	"testing"
	"time"

	"github.com/escrowpay/custody/lib/session"
	"github.com/escrowpay/custody/lib/store"
)

// memDB is an in-memory store.DB used to test the vault without a database.
type memDB struct {
	recs map[string]store.WalletRecord
}

func newMemDB() *memDB {
	return &memDB{recs: make(map[string]store.WalletRecord)}
}

func (m *memDB) PutWallet(name string, r store.WalletRecord) error {
	m.recs[name] = r

	return nil
}

func (m *memDB) GetWallet(name string) (store.WalletRecord, error) {
	r, ok := m.recs[name]
	if !ok {
		return store.WalletRecord{}, store.ErrWalletNotFound
	}

	return r, nil
}

func (m *memDB) DeleteWallet(name string) error {
	delete(m.recs, name)

	return nil
}

const password = "correct-horse"

// TestCreateUnlock creates a wallet, locks it and unlocks it again checking the session state at each step.
func TestCreateUnlock(t *testing.T) {
	db := newMemDB()
	sm := session.NewManager(time.Minute)
	v := New(db, "default", sm)

	if v.Exists() {
		t.Fatal("vault should start empty")
	}

	rec, err := v.Create([]byte(password), "main")
	if err != nil {
		t.Fatalf("error creating wallet:%e", err)
	}

	if len(rec.Address) != 42 || rec.Address[:2] != "0x" {
		t.Errorf("unexpected address %s", rec.Address)
	}

	if rec.Imported {
		t.Error("created wallet should not be flagged imported")
	}

	if !v.Exists() || v.Address() != rec.Address {
		t.Errorf("vault should report the stored wallet %s", rec.Address)
	}

	// wallet starts locked
	if sm.IsUnlocked() {
		t.Error("session should start locked")
	}

	if _, err = v.ExportPrivateKey(); !errors.Is(err, session.ErrWalletLocked) {
		t.Errorf("export while locked should fail, got %e", err)
	}

	// unlock and check the session
	sess, err := v.Unlock([]byte(password))
	if err != nil {
		t.Fatalf("error unlocking wallet:%e", err)
	}

	if sess.Address != rec.Address {
		t.Errorf("session address %s does not match wallet %s", sess.Address, rec.Address)
	}

	key, err := v.ExportPrivateKey()
	if err != nil {
		t.Fatalf("error exporting key:%e", err)
	}

	if len(key) != 64 {
		t.Errorf("exported key should be 64 hex chars, got %d", len(key))
	}

	mnemonic, err := v.ExportMnemonic()
	if err != nil {
		t.Fatalf("error exporting mnemonic:%e", err)
	}

	if len(mnemonic) == 0 {
		t.Error("created wallet should carry a recovery phrase")
	}

	// lock again
	v.Lock()

	if _, err = v.ExportMnemonic(); !errors.Is(err, session.ErrWalletLocked) {
		t.Errorf("export after lock should fail, got %e", err)
	}
}

// TestWrongPassword checks a wrong password fails cleanly and never mutates the stored record.
func TestWrongPassword(t *testing.T) {
	db := newMemDB()
	v := New(db, "default", session.NewManager(time.Minute))

	if _, err := v.Create([]byte(password), "main"); err != nil {
		t.Fatalf("error creating wallet:%e", err)
	}

	before := db.recs["default"]

	if _, err := v.Unlock([]byte("not-the-password")); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("expected ErrInvalidPassword, got %e", err)
	}

	after := db.recs["default"]
	if before.Key != after.Key || before.Address != after.Address {
		t.Error("failed unlock mutated the stored record")
	}

	// the right password still works
	if _, err := v.Unlock([]byte(password)); err != nil {
		t.Errorf("error unlocking with correct password:%e", err)
	}
}

// TestWeakPassword checks the password policy.
func TestWeakPassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"correct-horse", true},
		{"hunter2hunter2", true},
		{"Tr0ub4dor", true},
		{"short1!", false},    // under 8 chars
		{"aaaaaaaa", false},   // one character class
		{"12345678", false},   // one character class
		{"", false},
	}

	for _, tt := range tests {
		db := newMemDB()
		v := New(db, "default", session.NewManager(time.Minute))

		_, err := v.Create([]byte(tt.password), "main")
		if tt.ok && err != nil {
			t.Errorf("password %q should be accepted, got %e", tt.password, err)
		}

		if !tt.ok && !errors.Is(err, ErrWeakPassword) {
			t.Errorf("password %q should be rejected, got %e", tt.password, err)
		}
	}
}

// TestSingleWallet checks a second create or import fails while a record exists.
func TestSingleWallet(t *testing.T) {
	db := newMemDB()
	v := New(db, "default", session.NewManager(time.Minute))

	if _, err := v.Create([]byte(password), "main"); err != nil {
		t.Fatalf("error creating wallet:%e", err)
	}

	if _, err := v.Create([]byte(password), "other"); !errors.Is(err, ErrWalletExists) {
		t.Errorf("second create should fail, got %e", err)
	}

	if _, err := v.Import([]byte(password), testMnemonic, KindMnemonic, "other"); !errors.Is(err, ErrWalletExists) {
		t.Errorf("import over existing wallet should fail, got %e", err)
	}

	// delete, then create works again
	if err := v.Delete(); err != nil {
		t.Fatalf("error deleting wallet:%e", err)
	}

	if v.Exists() {
		t.Error("vault should be empty after delete")
	}

	if _, err := v.Create([]byte(password), "other"); err != nil {
		t.Errorf("create after delete should work, got %e", err)
	}
}

// testMnemonic is the well-known BIP39 test vector phrase.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// TestImportMnemonic imports a recovery phrase and checks the derived address is deterministic.
func TestImportMnemonic(t *testing.T) {
	db := newMemDB()
	sm := session.NewManager(time.Minute)
	v := New(db, "default", sm)

	rec, err := v.Import([]byte(password), testMnemonic, KindMnemonic, "imported")
	if err != nil {
		t.Fatalf("error importing mnemonic:%e", err)
	}

	if !rec.Imported {
		t.Error("imported wallet should be flagged imported")
	}

	// same phrase always derives the same address
	db2 := newMemDB()
	v2 := New(db2, "default", session.NewManager(time.Minute))

	rec2, err := v2.Import([]byte("other-password"), testMnemonic, KindMnemonic, "imported")
	if err != nil {
		t.Fatalf("error importing mnemonic:%e", err)
	}

	if rec.Address != rec2.Address {
		t.Errorf("derivation is not deterministic: %s != %s", rec.Address, rec2.Address)
	}

	// extra whitespace is normalized away
	db3 := newMemDB()
	v3 := New(db3, "default", session.NewManager(time.Minute))

	rec3, err := v3.Import([]byte(password), "  abandon abandon  abandon abandon abandon abandon abandon abandon abandon abandon abandon  about ",
		KindMnemonic, "imported")
	if err != nil {
		t.Fatalf("error importing padded mnemonic:%e", err)
	}

	if rec.Address != rec3.Address {
		t.Errorf("whitespace normalization failed: %s != %s", rec.Address, rec3.Address)
	}

	// the phrase survives a round trip through the sealed record
	if _, err = v.Unlock([]byte(password)); err != nil {
		t.Fatalf("error unlocking wallet:%e", err)
	}

	m, err := v.ExportMnemonic()
	if err != nil {
		t.Fatalf("error exporting mnemonic:%e", err)
	}

	if m != testMnemonic {
		t.Errorf("exported mnemonic %q does not match the imported one", m)
	}
}

// TestImportPrivateKey imports a raw private key and checks there is no recovery phrase to export.
func TestImportPrivateKey(t *testing.T) {
	db := newMemDB()
	sm := session.NewManager(time.Minute)
	v := New(db, "default", sm)

	// test vector: key 0x01 maps to a well known address
	keyHex := "0000000000000000000000000000000000000000000000000000000000000001"

	rec, err := v.Import([]byte(password), "0x"+keyHex, KindPrivateKey, "raw")
	if err != nil {
		t.Fatalf("error importing private key:%e", err)
	}

	if rec.Address != "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf" {
		t.Errorf("unexpected address %s", rec.Address)
	}

	if rec.Mnemonic != nil {
		t.Error("raw key import should not store a mnemonic")
	}

	if _, err = v.Unlock([]byte(password)); err != nil {
		t.Fatalf("error unlocking wallet:%e", err)
	}

	key, err := v.ExportPrivateKey()
	if err != nil {
		t.Fatalf("error exporting key:%e", err)
	}

	if key != keyHex {
		t.Errorf("exported key does not match the imported one")
	}

	if _, err = v.ExportMnemonic(); !errors.Is(err, session.ErrNoMnemonic) {
		t.Errorf("expected ErrNoMnemonic, got %e", err)
	}
}

// TestImportInvalid checks invalid secrets are rejected.
func TestImportInvalid(t *testing.T) {
	tests := []struct {
		secret string
		kind   string
	}{
		{"abandon abandon abandon", KindMnemonic},                 // wrong word count
		{"zzzzz abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", KindMnemonic},
		{"0x1234", KindPrivateKey},                                // too short
		{"zz00000000000000000000000000000000000000000000000000000000000001", KindPrivateKey},
		{testMnemonic, "passport"},                                // unknown kind
	}

	for _, tt := range tests {
		db := newMemDB()
		v := New(db, "default", session.NewManager(time.Minute))

		if _, err := v.Import([]byte(password), tt.secret, tt.kind, "bad"); !errors.Is(err, ErrInvalidSecret) {
			t.Errorf("secret %q kind %s should be rejected, got %e", tt.secret, tt.kind, err)
		}
	}
}

// TestTamperedRecord checks a corrupted ciphertext fails to unlock.
func TestTamperedRecord(t *testing.T) {
	db := newMemDB()
	v := New(db, "default", session.NewManager(time.Minute))

	if _, err := v.Create([]byte(password), "main"); err != nil {
		t.Fatalf("error creating wallet:%e", err)
	}

	rec := db.recs["default"]
	rec.Key.CipherText = "bm90IHRoZSBjaXBoZXJ0ZXh0" // valid base64, wrong bytes
	db.recs["default"] = rec

	if _, err := v.Unlock([]byte(password)); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("tampered record should fail as invalid password, got %e", err)
	}
}
