// Package vault owns the encrypted wallet record: creation, import, unlock into a session, export and
// deletion. It is the only component that reads or writes the record ciphertext, and it never performs
// network I/O.
package vault

import (
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"
	"unicode"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tarancss/hd"
	"github.com/tyler-smith/go-bip39"

	"github.com/escrowpay/custody/lib/session"
	"github.com/escrowpay/custody/lib/store"
)

// Secret kinds accepted by Import.
const (
	KindMnemonic   = "mnemonic"
	KindPrivateKey = "privateKey"
)

const minPasswordLen = 8

// Errors returned
var (
	ErrWeakPassword    = errors.New("password must be at least 8 characters and mix character classes")
	ErrInvalidPassword = errors.New("could not decrypt wallet: invalid password")
	ErrInvalidSecret   = errors.New("secret is not a valid mnemonic or private key")
	ErrWalletExists    = errors.New("a wallet already exists; delete it before creating another")
)

// Vault manages the single wallet record stored under 'name'.
type Vault struct {
	db       store.DB
	name     string
	sessions *session.Manager
}

// New returns a Vault persisting through db under the given vault name, gating signing through sessions.
func New(db store.DB, name string, sessions *session.Manager) *Vault {
	return &Vault{db: db, name: name, sessions: sessions}
}

// Exists reports whether a wallet record is persisted.
func (v *Vault) Exists() bool {
	_, err := v.db.GetWallet(v.name)

	return err == nil
}

// Address returns the persisted wallet address, or the empty string when no wallet exists.
func (v *Vault) Address() string {
	rec, err := v.db.GetWallet(v.name)
	if err != nil {
		return ""
	}

	return rec.Address
}

// Create generates a fresh wallet with a new recovery phrase, seals it under password and persists the record.
func (v *Vault) Create(password []byte, name string) (store.WalletRecord, error) {
	if err := checkPassword(password); err != nil {
		return store.WalletRecord{}, err
	}

	if v.Exists() {
		return store.WalletRecord{}, ErrWalletExists
	}

	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return store.WalletRecord{}, err
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return store.WalletRecord{}, err
	}

	address, keyHex, err := deriveFromMnemonic(mnemonic)
	if err != nil {
		return store.WalletRecord{}, err
	}

	return v.persist(password, address, name, keyHex, mnemonic, false)
}

// Import derives a wallet from the given secret, seals it under password and persists the record. kind selects
// between a BIP-39 recovery phrase and a 64-hex-character raw private key.
func (v *Vault) Import(password []byte, secret, kind, name string) (store.WalletRecord, error) {
	if err := checkPassword(password); err != nil {
		return store.WalletRecord{}, err
	}

	if v.Exists() {
		return store.WalletRecord{}, ErrWalletExists
	}

	var address, keyHex, mnemonic string

	var err error

	switch kind {
	case KindMnemonic:
		mnemonic = strings.Join(strings.Fields(secret), " ") // normalize whitespace
		if !validMnemonic(mnemonic) {
			return store.WalletRecord{}, ErrInvalidSecret
		}

		if address, keyHex, err = deriveFromMnemonic(mnemonic); err != nil {
			return store.WalletRecord{}, err
		}
	case KindPrivateKey:
		keyHex = strings.TrimPrefix(strings.TrimSpace(secret), "0x")
		if len(keyHex) != 64 {
			return store.WalletRecord{}, ErrInvalidSecret
		}

		priv, errKey := ethcrypto.HexToECDSA(keyHex)
		if errKey != nil {
			return store.WalletRecord{}, ErrInvalidSecret
		}

		address = ethcrypto.PubkeyToAddress(priv.PublicKey).Hex()
	default:
		return store.WalletRecord{}, ErrInvalidSecret
	}

	return v.persist(password, address, name, keyHex, mnemonic, true)
}

// persist seals the key material and writes the record. The mnemonic, when present, is sealed independently
// with its own salt and nonce under the same password.
func (v *Vault) persist(password []byte, address, name, keyHex, mnemonic string,
	imported bool) (store.WalletRecord, error) {
	sealedKey, err := seal(password, []byte(keyHex))
	if err != nil {
		return store.WalletRecord{}, err
	}

	rec := store.WalletRecord{
		Address:   address,
		Name:      name,
		Key:       sealedKey,
		Imported:  imported,
		CreatedAt: time.Now().UTC(),
	}

	if mnemonic != "" {
		sealedMnemonic, errSeal := seal(password, []byte(mnemonic))
		if errSeal != nil {
			return store.WalletRecord{}, errSeal
		}

		rec.Mnemonic = &sealedMnemonic
	}

	if err = v.db.PutWallet(v.name, rec); err != nil {
		return store.WalletRecord{}, err
	}

	log.Printf("Wallet %s persisted (imported:%v)", address, imported)

	return rec, nil
}

// Unlock decrypts the persisted record and opens a session. A wrong password always fails with
// ErrInvalidPassword and never mutates the record.
func (v *Vault) Unlock(password []byte) (*session.Session, error) {
	rec, err := v.db.GetWallet(v.name)
	if err != nil {
		return nil, err
	}

	keyHex, err := open(password, rec.Key)
	if err != nil {
		return nil, err
	}

	var mnemonic []byte

	if rec.Mnemonic != nil {
		if mnemonic, err = open(password, *rec.Mnemonic); err != nil {
			return nil, err
		}
	}

	return v.sessions.Unlock(rec.Address, string(keyHex), string(mnemonic)), nil
}

// Lock discards the in-memory session. Safe to call when already locked.
func (v *Vault) Lock() {
	v.sessions.Lock()
}

// ExportPrivateKey returns the 64-hex-character private key of the unlocked wallet, or ErrWalletLocked.
func (v *Vault) ExportPrivateKey() (string, error) {
	return v.sessions.Signer()
}

// ExportMnemonic returns the recovery phrase of the unlocked wallet. Wallets imported from a raw private key
// have none.
func (v *Vault) ExportMnemonic() (string, error) {
	return v.sessions.Mnemonic()
}

// Delete irreversibly removes the persisted record and discards any active session.
func (v *Vault) Delete() error {
	v.sessions.Lock()

	return v.db.DeleteWallet(v.name)
}

// deriveFromMnemonic turns a recovery phrase into the account-0 external address and private key: BIP-39 seed,
// then hierarchical-deterministic derivation.
func deriveFromMnemonic(mnemonic string) (address, keyHex string, err error) {
	seed := bip39.NewSeed(mnemonic, "")

	hdw, err := hd.Init(seed)
	if err != nil {
		return "", "", err
	}

	var key []byte

	if _, key, _, err = hdw.Address(0, hd.External, 0); err != nil {
		return "", "", err
	}

	keyHex = hex.EncodeToString(key)

	priv, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return "", "", err
	}

	return ethcrypto.PubkeyToAddress(priv.PublicKey).Hex(), keyHex, nil
}

// validMnemonic checks word count and BIP-39 checksum.
func validMnemonic(m string) bool {
	switch len(strings.Fields(m)) {
	case 12, 15, 18, 21, 24:
	default:
		return false
	}

	return bip39.IsMnemonicValid(m)
}

// checkPassword enforces the password policy: minimum length plus at least two character classes among
// letters, digits and everything else.
func checkPassword(password []byte) error {
	if len(password) < minPasswordLen {
		return ErrWeakPassword
	}

	var hasLetter, hasDigit, hasOther bool

	for _, r := range string(password) {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasLetter, hasDigit, hasOther} {
		if ok {
			classes++
		}
	}

	if classes < 2 {
		return ErrWeakPassword
	}

	return nil
}
