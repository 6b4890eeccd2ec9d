// Package store defines the interface for database implementations persisting the encrypted wallet record.
package store

import (
	"errors"
)

// DB defines the required methods for the custody service. One wallet record is kept per vault name; PutWallet
// replaces any existing record for the name.
type DB interface {
	PutWallet(name string, r WalletRecord) error
	GetWallet(name string) (WalletRecord, error)
	DeleteWallet(name string) error
}

// Errors returned
var (
	ErrWalletNotFound = errors.New("wallet record was not found in store")
	ErrStoreCorrupted = errors.New("wallet record in store could not be read")
)
