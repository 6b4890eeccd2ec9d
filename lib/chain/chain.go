// Package chain defines the interface required for all blockchain or network connections.
package chain

import (
	"math/big"
)

// Transaction status constants
const (
	TxPending uint8 = 0
	TxFailed  uint8 = 1
	TxSuccess uint8 = 2
)

// Token is a blockchain asset.
type Token struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Tx contains a simplified number of transaction fields, enough for the dashboard to render a receipt.
type Tx struct {
	Hash   string `json:"hash"`
	Block  uint64 `json:"block"`
	TS     int32  `json:"ts"`
	From   string `json:"from"`
	To     string `json:"to"`
	Token  string `json:"token,omitempty"`
	Amount string `json:"amount"`
	Fee    uint64 `json:"fee"`
	Status uint8  `json:"status"`
}

// Conn is a single connection to one RPC endpoint of one network. It has been designed to be as much standard
// as possible, however, there may be specific blockchains or networks that would require different types or
// more methods.
type Conn interface {
	// Close ends the connection.
	Close()
	// Probe issues a lightweight RPC call to verify the endpoint is responsive.
	Probe() error
	// Balance loads the native balance, and the token balance if token is non-empty, onto the provided
	// big.Int pointers.
	Balance(account, token string, bal, tokBal *big.Int) error
	// GetToken returns the name, symbol and decimals of a valid ERC20 token.
	GetToken(token string) (Token, error)
	// Send executes a transaction with the given parameters returning the expected fee and the transaction
	// hash, or an error otherwise.
	Send(fromAddress, toAddress, token, amount string, data []byte, key string, priceIn uint64,
		dryRun bool) (fee *big.Int, hash []byte, err error)
	// Get returns the details of the transaction for the given hash.
	Get(hash string) (Tx, error)
}
