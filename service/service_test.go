package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/escrowpay/custody/lib/balance"
	"github.com/escrowpay/custody/lib/chain"
	"github.com/escrowpay/custody/lib/chain/pool"
	"github.com/escrowpay/custody/lib/config"
	"github.com/escrowpay/custody/lib/price"
	"github.com/escrowpay/custody/lib/session"
	"github.com/escrowpay/custody/lib/store"
	"github.com/escrowpay/custody/lib/vault"
)

// memDB is an in-memory store.DB so the API can be tested without a database.
type memDB struct {
	recs map[string]store.WalletRecord
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

// fakeConn serves a fixed balance and accepts any transaction.
type fakeConn struct {
	balance *big.Int
}

func (f *fakeConn) Close()       {}
func (f *fakeConn) Probe() error { return nil }
func (f *fakeConn) GetToken(token string) (chain.Token, error) {
	return chain.Token{}, nil
}

func (f *fakeConn) Balance(account, token string, bal, tokBal *big.Int) error {
	bal.Set(f.balance)

	return nil
}

func (f *fakeConn) Send(from, to, token, amount string, data []byte, key string, priceIn uint64,
	dryRun bool) (*big.Int, []byte, error) {
	return big.NewInt(21000), []byte{0xab, 0xcd}, nil
}

func (f *fakeConn) Get(hash string) (chain.Tx, error) {
	return chain.Tx{}, errors.New("transaction not found")
}

// newTestService wires a Service over in-memory fakes. Only the sepolia network is reachable.
func newTestService() *Service {
	db := &memDB{recs: make(map[string]store.WalletRecord)}
	sm := session.NewManager(time.Minute)
	v := vault.New(db, "default", sm)

	nets := []config.NetworkConfig{
		{Name: "sepolia", Node: "https://a", Symbol: "ETH"},
		{Name: "baseSepolia", Node: "https://b", Symbol: "ETH"},
	}

	p := pool.New(nets, time.Second)
	p.SetDialer(func(node, secret string) (chain.Conn, error) {
		if node != "https://a" {
			return nil, errors.New("connection refused")
		}

		return &fakeConn{balance: big.NewInt(1e18)}, nil
	})

	bc := balance.New(p, price.DefaultStatic(), nil)

	return New("", db, nil, p, v, sm, bc)
}

// makeRequest places a http request on the test server. Returns the status code and the body and error fields
// of the received JSON response.
func makeRequest(t *testing.T, method, uri string, obj interface{}) (s int, b, e string) {
	t.Helper()

	var body *bytes.Buffer = bytes.NewBuffer(nil)

	if obj != nil {
		pl, err := json.Marshal(obj)
		if err != nil {
			t.Fatalf("Error marshaling request:%e", err)
		}

		body = bytes.NewBuffer(pl)
	}

	req, err := http.NewRequest(method, uri, body)
	if err != nil {
		t.Fatalf("Error building request:%e", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Error in request:%e", err)
	}
	defer resp.Body.Close()

	var v struct {
		B string `json:"body"`
		E string `json:"error"`
	}

	if err = json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Error decoding response:%e", err)
	}

	return resp.StatusCode, v.B, v.E
}

// TestAPI exercises the wallet lifecycle and balance endpoints through the router.
func TestAPI(t *testing.T) {
	srv := httptest.NewServer(newTestService().Router())
	defer srv.Close()

	// home
	s, b, _ := makeRequest(t, http.MethodGet, srv.URL+"/", nil)
	if s != http.StatusOK || b != "Hello, this is your escrow custody service!" {
		t.Errorf("[home] status:%d body:%s", s, b)
	}

	// networks
	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/networks", nil)
	if s != http.StatusOK {
		t.Fatalf("[networks] status:%d", s)
	}

	var nets []networkInfo
	if err := json.Unmarshal([]byte(b), &nets); err != nil || len(nets) != 2 || nets[0].Name != "sepolia" {
		t.Errorf("[networks] body:%s err:%e", b, err)
	}

	// no wallet yet
	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/wallet", nil)

	var ws walletStatus
	_ = json.Unmarshal([]byte(b), &ws)

	if s != http.StatusOK || ws.Exists {
		t.Errorf("[status] status:%d body:%s", s, b)
	}

	// weak password is rejected
	s, _, e := makeRequest(t, http.MethodPost, srv.URL+"/wallet", createReq{Password: "short", Name: "m"})
	if s != http.StatusBadRequest || e == "" {
		t.Errorf("[create weak] status:%d err:%s", s, e)
	}

	// create the wallet, the recovery phrase is revealed once
	s, b, _ = makeRequest(t, http.MethodPost, srv.URL+"/wallet", createReq{Password: "correct-horse", Name: "m"})
	if s != http.StatusCreated {
		t.Fatalf("[create] status:%d", s)
	}

	var created createRes
	if err := json.Unmarshal([]byte(b), &created); err != nil || created.Mnemonic == "" || created.Address == "" {
		t.Fatalf("[create] body:%s err:%e", b, err)
	}

	// a second wallet is refused
	s, _, _ = makeRequest(t, http.MethodPost, srv.URL+"/wallet", createReq{Password: "correct-horse", Name: "n"})
	if s != http.StatusConflict {
		t.Errorf("[create again] status:%d", s)
	}

	// creation leaves the wallet unlocked
	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/wallet", nil)
	_ = json.Unmarshal([]byte(b), &ws)

	if s != http.StatusOK || !ws.Exists || !ws.Unlocked || ws.Address != created.Address {
		t.Errorf("[status unlocked] status:%d body:%s", s, b)
	}

	// lock, then exports are forbidden
	if s, _, _ = makeRequest(t, http.MethodPost, srv.URL+"/wallet/lock", nil); s != http.StatusOK {
		t.Errorf("[lock] status:%d", s)
	}

	if s, _, _ = makeRequest(t, http.MethodGet, srv.URL+"/wallet/export/key", nil); s != http.StatusForbidden {
		t.Errorf("[export locked] status:%d", s)
	}

	// sending is forbidden while locked
	s, _, _ = makeRequest(t, http.MethodPost, srv.URL+"/send",
		TxReq{Net: "sepolia", To: "0x357dd3856d856197c1a000bbAb4aBCB97Dfc92c4", Amount: "0x565656"})
	if s != http.StatusForbidden {
		t.Errorf("[send locked] status:%d", s)
	}

	// wrong password
	s, _, _ = makeRequest(t, http.MethodPost, srv.URL+"/wallet/unlock", createReq{Password: "wrong-horse"})
	if s != http.StatusUnauthorized {
		t.Errorf("[unlock wrong] status:%d", s)
	}

	// unlock
	s, b, _ = makeRequest(t, http.MethodPost, srv.URL+"/wallet/unlock", createReq{Password: "correct-horse"})
	_ = json.Unmarshal([]byte(b), &ws)

	if s != http.StatusOK || !ws.Unlocked || ws.AutoLockAt == "" {
		t.Fatalf("[unlock] status:%d body:%s", s, b)
	}

	// export the key
	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/wallet/export/key", nil)
	if s != http.StatusOK || len(b) != 64 {
		t.Errorf("[export key] status:%d len:%d", s, len(b))
	}

	// export the phrase
	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/wallet/export/mnemonic", nil)
	if s != http.StatusOK || b != created.Mnemonic {
		t.Errorf("[export mnemonic] status:%d body:%s", s, b)
	}

	// balances across networks, the dead one is flagged not failed
	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/balance/"+created.Address, nil)
	if s != http.StatusOK {
		t.Fatalf("[balance] status:%d", s)
	}

	var entries []balance.Entry
	if err := json.Unmarshal([]byte(b), &entries); err != nil || len(entries) != 2 {
		t.Fatalf("[balance] body:%s err:%e", b, err)
	}

	if entries[0].Net != "sepolia" || entries[0].Disconnected || entries[0].Native != "1" {
		t.Errorf("[balance] sepolia entry:%+v", entries[0])
	}

	if entries[1].Net != "baseSepolia" || !entries[1].Disconnected {
		t.Errorf("[balance] baseSepolia entry:%+v", entries[1])
	}

	// unknown network
	s, _, _ = makeRequest(t, http.MethodGet, srv.URL+"/balance/"+created.Address+"?net=hardhat", nil)
	if s != http.StatusNotFound {
		t.Errorf("[balance unknown net] status:%d", s)
	}

	// total USD value covers the connected network only
	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/balance/"+created.Address+"/total", nil)
	if s != http.StatusOK {
		t.Fatalf("[total] status:%d", s)
	}

	var total map[string]float64
	if err := json.Unmarshal([]byte(b), &total); err != nil || total["total"] != 3800 {
		t.Errorf("[total] body:%s err:%e", b, err)
	}

	// send a transaction
	s, b, _ = makeRequest(t, http.MethodPost, srv.URL+"/send",
		TxReq{Net: "sepolia", To: "0x357dd3856d856197c1a000bbAb4aBCB97Dfc92c4", Amount: "0x565656"})
	if s != http.StatusAccepted {
		t.Fatalf("[send] status:%d", s)
	}

	var tx chain.Tx
	if err := json.Unmarshal([]byte(b), &tx); err != nil ||
		tx.Hash != "0xabcd" || tx.From != created.Address || tx.Status != chain.TxPending {
		t.Errorf("[send] body:%s err:%e", b, err)
	}

	// send to an unreachable network
	s, _, _ = makeRequest(t, http.MethodPost, srv.URL+"/send", TxReq{Net: "baseSepolia", To: "0x0", Amount: "0x1"})
	if s != http.StatusNotFound {
		t.Errorf("[send dead net] status:%d", s)
	}

	// unknown transaction hash
	s, _, _ = makeRequest(t, http.MethodGet,
		srv.URL+"/tx/0x2ba030485e79b5a98275b45d940e6fdd07b40dea593ef3b2a69b0a02a68a5872", nil)
	if s != http.StatusNotFound {
		t.Errorf("[tx unknown] status:%d", s)
	}

	// short hash
	s, _, _ = makeRequest(t, http.MethodGet, srv.URL+"/tx/0x123456", nil)
	if s != http.StatusBadRequest {
		t.Errorf("[tx short hash] status:%d", s)
	}

	// delete the wallet
	if s, _, _ = makeRequest(t, http.MethodDelete, srv.URL+"/wallet", nil); s != http.StatusOK {
		t.Errorf("[delete] status:%d", s)
	}

	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/wallet", nil)
	_ = json.Unmarshal([]byte(b), &ws)

	if s != http.StatusOK || ws.Exists {
		t.Errorf("[status deleted] status:%d body:%s", s, b)
	}

	// deleting again reports no wallet
	if s, _, _ = makeRequest(t, http.MethodDelete, srv.URL+"/wallet", nil); s != http.StatusNotFound {
		t.Errorf("[delete again] status:%d", s)
	}
}

// TestImportAPI imports a known phrase and checks the derived address is served.
func TestImportAPI(t *testing.T) {
	srv := httptest.NewServer(newTestService().Router())
	defer srv.Close()

	phrase := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	s, b, _ := makeRequest(t, http.MethodPost, srv.URL+"/wallet/import",
		createReq{Password: "correct-horse", Name: "imported", Secret: phrase, Kind: vault.KindMnemonic})
	if s != http.StatusCreated {
		t.Fatalf("[import] status:%d", s)
	}

	var created createRes
	if err := json.Unmarshal([]byte(b), &created); err != nil || created.Address == "" {
		t.Fatalf("[import] body:%s err:%e", b, err)
	}

	// import leaves the wallet unlocked, the phrase can be exported back
	s, b, _ = makeRequest(t, http.MethodGet, srv.URL+"/wallet/export/mnemonic", nil)
	if s != http.StatusOK || b != phrase {
		t.Errorf("[import export] status:%d body:%s", s, b)
	}

	// an invalid secret is rejected
	s, _, _ = makeRequest(t, http.MethodDelete, srv.URL+"/wallet", nil)
	if s != http.StatusOK {
		t.Fatalf("[import delete] status:%d", s)
	}

	s, _, e := makeRequest(t, http.MethodPost, srv.URL+"/wallet/import",
		createReq{Password: "correct-horse", Name: "bad", Secret: "not a phrase", Kind: vault.KindMnemonic})
	if s != http.StatusBadRequest || e == "" {
		t.Errorf("[import invalid] status:%d err:%s", s, e)
	}
}
