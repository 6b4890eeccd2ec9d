package service

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/escrowpay/custody/lib/balance"
	"github.com/escrowpay/custody/lib/chain"
	"github.com/escrowpay/custody/lib/session"
	"github.com/escrowpay/custody/lib/store"
	"github.com/escrowpay/custody/lib/vault"
)

// DryRun is a bool used to control sending transactions to the blockchain. When true, it will not send
// transactions but just do a dry run.
var DryRun bool = false //nolint:gochecknoglobals // consider adding this to config

// Errors returned to client requests.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNoAddr     = errors.New("undefined address - missing in uri")
	ErrNoHash     = errors.New("a 32-byte hash is required")
	ErrNoNet      = errors.New("network not available")
	ErrNoWallet   = errors.New("no wallet stored")
	ErrTxNotFound = errors.New("transaction not found on any configured network")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// status maps an error to the http status code replied to the client.
func status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, vault.ErrInvalidPassword):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrWalletLocked):
		return http.StatusForbidden
	case errors.Is(err, store.ErrWalletNotFound), errors.Is(err, ErrNoWallet), errors.Is(err, ErrNoNet),
		errors.Is(err, ErrTxNotFound):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrWalletExists):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// homeHandler just replies a welcome message to the client.
func (s *Service) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// just reply a welcome message
	res.Body = "Hello, this is your escrow custody service!"
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(res)
}

// networkInfo is the per-network detail replied to clients.
type networkInfo struct {
	Name     string `json:"name"`
	ChainID  uint64 `json:"chainId"`
	Symbol   string `json:"symbol"`
	Explorer string `json:"explorer,omitempty"`
	Tokens   int    `json:"tokens"`
}

// networksHandler replies the networks available to the service.
func (s *Service) networksHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	nets := s.pool.Networks()
	pl := make([]networkInfo, 0, len(nets))

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			tmp, _ := json.Marshal(pl)
			res.Body = string(tmp)
		}

		rw.WriteHeader(status(err))
		// log request
		log.Printf("httpreq from %v %s res:%+v err:%e\n", r.RemoteAddr, r.RequestURI, pl, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	for _, n := range nets {
		pl = append(pl, networkInfo{
			Name:     n.Name,
			ChainID:  n.ChainID,
			Symbol:   n.Symbol,
			Explorer: n.Explorer,
			Tokens:   len(n.Tokens),
		})
	}
}

// walletStatus is the lock state detail replied to clients.
type walletStatus struct {
	Exists     bool   `json:"exists"`
	Address    string `json:"address,omitempty"`
	Unlocked   bool   `json:"unlocked"`
	AutoLockAt string `json:"autoLockAt,omitempty"`
}

// walletStatusHandler replies whether a wallet is stored and whether its session is unlocked.
func (s *Service) walletStatusHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var ws walletStatus

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			tmp, _ := json.Marshal(ws)
			res.Body = string(tmp)
		}

		rw.WriteHeader(status(err))
		// log request
		log.Printf("httpreq from %v %s status:%+v err:%e\n", r.RemoteAddr, r.RequestURI, ws, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	if !s.vault.Exists() {
		ws.Exists = false

		return
	}

	ws.Exists = true
	ws.Address = s.vault.Address()
	ws.Unlocked = s.sessions.IsUnlocked()

	if deadline, ok := s.sessions.Deadline(); ok {
		ws.AutoLockAt = deadline.Format(time.RFC3339)
	}
}

// createReq is the payload to create or import a wallet.
type createReq struct {
	Password string `json:"password"`
	Name     string `json:"name"`
	Secret   string `json:"secret,omitempty"` // import only
	Kind     string `json:"kind,omitempty"`   // import only: "mnemonic" or "privateKey"
}

// createRes replies the new wallet address. The recovery phrase is included exactly once, on creation; it can
// only be recovered afterwards through an unlocked export.
type createRes struct {
	Address  string `json:"address"`
	Mnemonic string `json:"mnemonic,omitempty"`
}

// createWalletHandler generates a fresh wallet sealed under the given password and leaves it unlocked. The
// generated recovery phrase is replied to the client for backup.
func (s *Service) createWalletHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var out createRes

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(status(err))
		} else {
			rw.WriteHeader(http.StatusCreated)
			tmp, _ := json.Marshal(out)
			res.Body = string(tmp)
		}
		// log request, never the secrets
		log.Printf("httpreq from %v %s addr:%s err:%e\n", r.RemoteAddr, r.RequestURI, out.Address, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var req createReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = ErrBadRequest

		return
	}

	rec, errC := s.vault.Create([]byte(req.Password), req.Name)
	if errC != nil {
		err = errC

		return
	}

	out.Address = rec.Address

	// open a session so the dashboard starts unlocked, and reveal the phrase for backup
	if _, err = s.vault.Unlock([]byte(req.Password)); err != nil {
		return
	}

	out.Mnemonic, err = s.vault.ExportMnemonic()
}

// importWalletHandler derives a wallet from a recovery phrase or raw private key, seals it under the given
// password and leaves it unlocked.
func (s *Service) importWalletHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var out createRes

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(status(err))
		} else {
			rw.WriteHeader(http.StatusCreated)
			tmp, _ := json.Marshal(out)
			res.Body = string(tmp)
		}
		// log request, never the secrets
		log.Printf("httpreq from %v %s addr:%s err:%e\n", r.RemoteAddr, r.RequestURI, out.Address, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var req createReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = ErrBadRequest

		return
	}

	rec, errI := s.vault.Import([]byte(req.Password), req.Secret, req.Kind, req.Name)
	if errI != nil {
		err = errI

		return
	}

	out.Address = rec.Address

	_, err = s.vault.Unlock([]byte(req.Password))
}

// deleteWalletHandler removes the stored wallet, locks the session and drops its cached balances.
func (s *Service) deleteWalletHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			res.Body = "wallet deleted"
		}

		rw.WriteHeader(status(err))
		// log request
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	address := s.vault.Address()
	if address == "" {
		err = ErrNoWallet

		return
	}

	if err = s.vault.Delete(); err != nil {
		return
	}

	s.balances.ClearWallet(address)
}

// unlockHandler decrypts the stored wallet and opens a session with the configured auto lock deadline.
func (s *Service) unlockHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var ws walletStatus

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			tmp, _ := json.Marshal(ws)
			res.Body = string(tmp)
		}

		rw.WriteHeader(status(err))
		// log request, never the password
		log.Printf("httpreq from %v %s addr:%s err:%e\n", r.RemoteAddr, r.RequestURI, ws.Address, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var req createReq
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = ErrBadRequest

		return
	}

	sess, errU := s.vault.Unlock([]byte(req.Password))
	if errU != nil {
		err = errU

		return
	}

	ws.Exists = true
	ws.Address = sess.Address
	ws.Unlocked = true
	ws.AutoLockAt = sess.Deadline.Format(time.RFC3339)
}

// lockHandler discards the session. Locking an already locked wallet succeeds.
func (s *Service) lockHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response

	s.vault.Lock()

	res.Body = "wallet locked"
	// log request
	log.Printf("httpreq from %v %s\n", r.RemoteAddr, r.RequestURI)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	_ = json.NewEncoder(rw).Encode(&res)
}

// exportKeyHandler reveals the private key of the unlocked wallet.
func (s *Service) exportKeyHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var key string

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			res.Body = key
		}

		rw.WriteHeader(status(err))
		// log request, never the key
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	key, err = s.vault.ExportPrivateKey()
}

// exportMnemonicHandler reveals the recovery phrase of the unlocked wallet. Wallets imported from a raw
// private key have none.
func (s *Service) exportMnemonicHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var mnemonic string

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			res.Body = mnemonic
		}

		rw.WriteHeader(status(err))
		// log request, never the phrase
		log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	mnemonic, err = s.vault.ExportMnemonic()
}

// balanceHandler replies the balances of the address. With ?net=<name> one network is fetched, otherwise all
// configured networks are refreshed in parallel. Unreachable networks come back flagged disconnected rather
// than failing the request, so the reply always carries a decidable value per network.
func (s *Service) balanceHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var entries []balance.Entry

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			tmp, _ := json.Marshal(entries)
			res.Body = string(tmp)
		}

		rw.WriteHeader(status(err))
		// log request
		log.Printf("httpreq from %v %s entries:%d err:%e\n", r.RemoteAddr, r.RequestURI, len(entries), err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	// parse request
	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		err = ErrBadRequest

		return
	}

	v := mux.Vars(r)

	address, ok := v["address"]
	if !ok {
		err = ErrNoAddr

		return
	}

	force := r.Form.Get("force") == "true"

	if net := r.Form.Get("net"); net != "" {
		if _, okN := s.pool.Network(net); !okN {
			err = ErrNoNet

			return
		}

		entries = []balance.Entry{s.balances.Get(address, net, force)}

		return
	}

	entries = s.balances.RefreshAll(address)
}

// totalHandler replies the approximate USD value of the cached balances of the address.
func (s *Service) totalHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var total float64

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			tmp, _ := json.Marshal(map[string]float64{"total": total})
			res.Body = string(tmp)
		}

		rw.WriteHeader(status(err))
		// log request
		log.Printf("httpreq from %v %s total:%v err:%e\n", r.RemoteAddr, r.RequestURI, total, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	v := mux.Vars(r)

	address, ok := v["address"]
	if !ok {
		err = ErrNoAddr

		return
	}

	total = s.balances.TotalValue(address)
}

// TxReq transaction request data required to send transactions to the networks. The transaction is signed
// with the key of the unlocked wallet session.
type TxReq struct {
	Net    string `json:"net"`             // blockchain to submit the transaction to
	To     string `json:"to"`              // destination address
	Token  string `json:"token,omitempty"` // ERC20 contract, empty for the native asset
	Amount string `json:"amount"`          // amount in the smallest unit
	Data   string `json:"data,omitempty"`  // optional payload
	Price  uint64 `json:"price,omitempty"` // gas price, 0 lets the node suggest one
}

// sendHandler creates a send ether or ERC20 token transaction signed by the unlocked wallet and submits it to
// the requested network. A response is given to the client with the transaction hash or error.
func (s *Service) sendHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var hash []byte

	tx := chain.Tx{Status: chain.TxFailed}

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)

			rw.WriteHeader(status(err))
		} else {
			rw.WriteHeader(http.StatusAccepted)
			tmp, _ := json.Marshal(tx)
			res.Body = string(tmp)
		}
		// log request and tx hash
		log.Printf("httpreq from %v %s hash:0x%x err:%e\n", r.RemoteAddr, r.RequestURI, hash, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	var txReq TxReq
	if err = json.NewDecoder(r.Body).Decode(&txReq); err != nil {
		err = ErrBadRequest

		return
	}

	// signing requires an unlocked session
	key, errK := s.sessions.Signer()
	if errK != nil {
		err = errK

		return
	}

	from := s.sessions.Address()

	conn := s.pool.Get(txReq.Net)
	if conn == nil {
		err = ErrNoNet

		return
	}

	var data []byte
	if len(txReq.Data) > 0 {
		data = []byte(txReq.Data)
	}

	var fee *big.Int

	fee, hash, err = conn.Send(from, txReq.To, txReq.Token, txReq.Amount, data, key, txReq.Price, DryRun)

	tx.Hash = "0x" + hex.EncodeToString(hash)
	tx.From = from
	tx.To = txReq.To
	tx.Token = txReq.Token
	tx.Amount = txReq.Amount

	if fee != nil {
		tx.Fee = fee.Uint64()
	}

	if err == nil {
		tx.Status = chain.TxPending
	} else {
		// a failed submission may mean the endpoint died, force a reprobe next time
		s.pool.Evict(txReq.Net)
		log.Printf("httpreq from %v %s hash:0x%x err:%e\n", r.RemoteAddr, r.RequestURI, hash, err)
	}
}

// txReply pairs a transaction with the network it was found on.
type txReply struct {
	Net string   `json:"net"`
	Tx  chain.Tx `json:"tx"`
}

// txHandler gets the details of the specified transaction and replies it to the client request. If no network
// is queried, the configured networks are scanned in order.
func (s *Service) txHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var reply txReply

	defer func() {
		// reply to requester accordingly
		if err != nil {
			res.Error = fmt.Sprintf("%s", err)
		} else {
			tmp, _ := json.Marshal(reply)
			res.Body = string(tmp)
		}

		rw.WriteHeader(status(err))
		// log request and tx hash
		log.Printf("httpreq from %v %s tx:%+v err:%e\n", r.RemoteAddr, r.RequestURI, reply, err)
		// reply
		rw.Header().Set("Content-Type", "application/json;charset=utf8")
		_ = json.NewEncoder(rw).Encode(&res)
	}()

	if err = r.ParseForm(); err != nil {
		log.Print("Error parsing request URL")

		err = ErrBadRequest

		return
	}

	v := mux.Vars(r)

	hash, ok := v["hash"]
	if !ok || len(hash) != 66 { // 66 = 0x + 32 bytes
		err = ErrNoHash

		return
	}

	if net := r.Form.Get("net"); net != "" {
		conn := s.pool.Get(net)
		if conn == nil {
			err = ErrNoNet

			return
		}

		reply.Net = net
		reply.Tx, err = conn.Get(hash)

		return
	}

	net, tx, found := s.pool.FindTransaction(hash)
	if !found {
		err = ErrTxNotFound

		return
	}

	reply.Net = net
	reply.Tx = tx
}
