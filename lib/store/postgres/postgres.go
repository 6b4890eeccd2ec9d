// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/escrowpay/custody/lib/store"
)

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'. The wallet_records table
// is created on first use.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS wallet_records (name TEXT PRIMARY KEY, record JSONB NOT NULL)`)
	if err != nil {
		return nil, fmt.Errorf("cannot create wallet_records table: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// PutWallet saves the wallet record under the given vault name, replacing any existing record.
func (p *Postgres) PutWallet(name string, r store.WalletRecord) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not marshal wallet record: %w", err)
	}

	_, err = p.db.Exec(`INSERT INTO wallet_records (name, record) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET record = EXCLUDED.record`, name, doc)
	if err != nil {
		return fmt.Errorf("could not save wallet record in db: %w", err)
	}

	return nil
}

// GetWallet loads the wallet record stored under the given vault name.
func (p *Postgres) GetWallet(name string) (store.WalletRecord, error) {
	var doc []byte

	err := p.db.QueryRow(`SELECT record FROM wallet_records WHERE name = $1`, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return store.WalletRecord{}, store.ErrWalletNotFound
	}

	if err != nil {
		return store.WalletRecord{}, fmt.Errorf("could not load wallet record from db: %w", err)
	}

	var r store.WalletRecord
	if err = json.Unmarshal(doc, &r); err != nil {
		return store.WalletRecord{}, store.ErrStoreCorrupted
	}

	return r, nil
}

// DeleteWallet removes the wallet record stored under the given vault name.
func (p *Postgres) DeleteWallet(name string) error {
	res, err := p.db.Exec(`DELETE FROM wallet_records WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("could not delete wallet record from db: %w", err)
	}

	if n, errRows := res.RowsAffected(); errRows == nil && n == 0 {
		return store.ErrWalletNotFound
	}

	return nil
}
