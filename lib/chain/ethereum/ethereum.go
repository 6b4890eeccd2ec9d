// Implements the connection interface for ethereum networks
package ethereum

import (
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/escrowpay/custody/lib/chain"
	"github.com/tarancss/ethcli"
)

// probeAccount is the account queried by the liveness probe: a cheap eth_getBalance that any healthy endpoint
// answers immediately.
const probeAccount = "0x0000000000000000000000000000000000000000"

// Ethereum implements a connection to an ethereum-type chain through one RPC endpoint.
type Ethereum struct {
	c *ethcli.EthCli
}

// Dial returns a connection to an ethereum node, using secret if necessary for authentication.
func Dial(node, secret string) (*Ethereum, error) {
	c := ethcli.Init(node, secret)
	if c == nil {
		return nil, errors.New("cannot connect to ethereum blockchain in " + node)
	}

	return &Ethereum{c: c}, nil
}

// Close ends the connection.
func (e *Ethereum) Close() {
	e.c.End()
}

// Probe checks the endpoint answers a balance request.
func (e *Ethereum) Probe() error {
	var bal, tokBal big.Int

	return e.c.GetBalance(probeAccount, "", &bal, &tokBal)
}

// Balance loads the ether balance, and the token balance if specified, onto the provided big.Int pointers, or
// error otherwise.
func (e *Ethereum) Balance(address, token string, ethBal, tokBal *big.Int) error {
	return e.c.GetBalance(address, token, ethBal, tokBal)
}

// GetToken returns the name, symbol and decimals of a valid ERC20 token.
func (e *Ethereum) GetToken(token string) (t chain.Token, err error) {
	if t.Name, err = e.c.GetTokenName(token); err != nil {
		return
	}
	if t.Symbol, err = e.c.GetTokenSymbol(token); err != nil {
		return
	}
	var dec uint64
	if dec, err = e.c.GetTokenDecimals(token); err != nil {
		return
	}
	t.Decimals = uint8(dec)

	return
}

// Send executes a transaction in the blockchain with the given parameters returning the expected fee, the
// transaction hash or an error otherwise.
func (e *Ethereum) Send(fromAddress, toAddress, token, amount string, data []byte, key string, priceIn uint64,
	dryRun bool) (fee *big.Int, hash []byte, err error) {
	var price, gas uint64
	price, gas, hash, err = e.c.SendTrx(fromAddress, toAddress, token, amount, data, key, priceIn, dryRun)
	fee = new(big.Int).SetUint64(price)
	fee = fee.Mul(fee, new(big.Int).SetUint64(gas))

	return
}

// Get returns the details of the transaction for the given hash.
func (e *Ethereum) Get(hash string) (tx chain.Tx, err error) {
	var token []byte

	tx.Hash = hash
	tx.Block, tx.TS, _, _, tx.Status, tx.Fee, token, _, tx.To, tx.From, tx.Amount, err = e.c.GetTrx(hash)
	if len(token) > 0 {
		tx.Token = "0x" + hex.EncodeToString(token)
	}

	return
}
