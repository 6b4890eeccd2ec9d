// Package balance keeps a live cache of native and token balances per (address, network) key. Fetches go
// through the endpoint pool; a network with no reachable endpoint yields a "disconnected" entry instead of an
// error, so a failure on one network never prevents displaying balances for the others. Cache writes are
// broadcast to in-process subscribers and, when a broker is configured, published as balance events.
package balance

import (
	"log"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/escrowpay/custody/lib/chain/pool"
	"github.com/escrowpay/custody/lib/msg"
	"github.com/escrowpay/custody/lib/price"
	"github.com/escrowpay/custody/lib/util"
)

// TokenBalance is one token position within an entry.
type TokenBalance struct {
	Token    string  `json:"token"`
	Symbol   string  `json:"symbol"`
	Balance  string  `json:"balance"`
	USDValue float64 `json:"usdValue"`
}

// Entry is the cached balance state of one address on one network. Entries are replaced whole, never merged
// field by field, so a reader can never observe a partially updated mix of old and new balances.
type Entry struct {
	Address      string         `json:"address"`
	Net          string         `json:"net"`
	Native       string         `json:"native"`
	Symbol       string         `json:"symbol"`
	Tokens       []TokenBalance `json:"tokens,omitempty"`
	FetchedAt    time.Time      `json:"fetchedAt"`
	Disconnected bool           `json:"disconnected"`
}

type key struct {
	address, net string
}

// flight tracks one in-progress fetch so concurrent requests for the same key await the same result instead
// of issuing duplicate probes.
type flight struct {
	done  chan struct{}
	entry Entry
}

// Cache holds the balance entries, the subscriber registry and the in-flight fetch table.
type Cache struct {
	mu       sync.Mutex
	pool     *pool.Pool
	oracle   price.Oracle
	mb       msg.Broker // optional, may be nil
	entries  map[key]Entry
	inflight map[key]*flight
	subs     map[int]func(Entry)
	nextSub  int
}

// New returns an empty Cache fetching through p, valuing through o and publishing to mb (which may be nil).
func New(p *pool.Pool, o price.Oracle, mb msg.Broker) *Cache {
	return &Cache{
		pool:     p,
		oracle:   o,
		mb:       mb,
		entries:  make(map[key]Entry),
		inflight: make(map[key]*flight),
		subs:     make(map[int]func(Entry)),
	}
}

// Subscribe registers a callback invoked on every cache write. Callbacks receive every entry and filter by
// address themselves. The returned function deregisters the callback; deregistering during delivery is safe.
func (c *Cache) Subscribe(fn func(Entry)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Get returns the balance entry for (address, net). A cached entry is returned immediately unless force is
// set; otherwise a fetch runs through the pool. Callers always get a decidable value: a failed fetch yields a
// disconnected entry, never an error.
func (c *Cache) Get(address, net string, force bool) Entry {
	k := key{address, net}

	c.mu.Lock()

	if !force {
		if e, ok := c.entries[k]; ok {
			c.mu.Unlock()

			return e
		}
	}

	// join an in-flight fetch for the same key rather than duplicating it
	if f, ok := c.inflight[k]; ok {
		c.mu.Unlock()
		<-f.done

		return f.entry
	}

	f := &flight{done: make(chan struct{})}
	c.inflight[k] = f
	c.mu.Unlock()

	e := c.fetch(address, net)

	c.mu.Lock()
	e.FetchedAt = time.Now()
	c.entries[k] = e
	delete(c.inflight, k)
	subs := make([]func(Entry), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	f.entry = e
	close(f.done)

	for _, fn := range subs {
		fn(e)
	}

	c.publish(e)

	return e
}

// RefreshAll fetches, in parallel, the balance of the address on every configured network. Partial failures do
// not abort the batch: the result always holds one entry per network, disconnected entries included, in
// registry order.
func (c *Cache) RefreshAll(address string) []Entry {
	nets := c.pool.Networks()
	out := make([]Entry, len(nets))

	var wg sync.WaitGroup

	for i, n := range nets {
		wg.Add(1)

		go func(i int, net string) {
			defer wg.Done()
			out[i] = c.Get(address, net, true)
		}(i, n.Name)
	}

	wg.Wait()

	return out
}

// ClearWallet evicts every cached entry for the address. Used when switching or deleting wallets so a new
// session never sees stale data from a previous one.
func (c *Cache) ClearWallet(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if k.address == address {
			delete(c.entries, k)
		}
	}
}

// TotalValue returns the approximate USD value of all cached entries for the address: native balances priced
// through the oracle plus the token USD values. An unavailable price contributes zero.
func (c *Cache) TotalValue(address string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total float64

	for k, e := range c.entries {
		if k.address != address || e.Disconnected {
			continue
		}

		if p, err := c.oracle.Price(e.Symbol); err == nil {
			if native, errParse := strconv.ParseFloat(e.Native, 64); errParse == nil {
				total += native * p
			}
		}

		for _, t := range e.Tokens {
			total += t.USDValue
		}
	}

	return total
}

// fetch reads the native and token balances for one network through the pool. Any RPC failure evicts the
// pooled endpoint and degrades the whole entry to disconnected: entries are replaced whole, so a half-fetched
// balance set is never cached.
func (c *Cache) fetch(address, net string) Entry {
	cfg, ok := c.pool.Network(net)
	if !ok {
		return Entry{Address: address, Net: net, Native: "0", Disconnected: true}
	}

	disconnected := Entry{Address: address, Net: net, Native: "0", Symbol: cfg.Symbol, Disconnected: true}

	conn := c.pool.Get(net)
	if conn == nil {
		return disconnected
	}

	var bal, tokBal big.Int

	if err := conn.Balance(address, "", &bal, &tokBal); err != nil {
		log.Printf("[%s] error getting balance for %s: %v", net, address, err)
		c.pool.Evict(net)

		return disconnected
	}

	e := Entry{
		Address: address,
		Net:     net,
		Native:  util.ToDecimal(&bal, 18),
		Symbol:  cfg.Symbol,
	}

	for _, t := range cfg.Tokens {
		var ethBal, tb big.Int

		if err := conn.Balance(address, t.Address, &ethBal, &tb); err != nil {
			log.Printf("[%s] error getting %s balance for %s: %v", net, t.Symbol, address, err)
			c.pool.Evict(net)

			return disconnected
		}

		amount := util.ToDecimal(&tb, t.Decimals)
		usd := 0.0

		if p, err := c.oracle.Price(t.Symbol); err == nil {
			if a, errParse := strconv.ParseFloat(amount, 64); errParse == nil {
				usd = a * p
			}
		}

		e.Tokens = append(e.Tokens, TokenBalance{
			Token:    t.Address,
			Symbol:   t.Symbol,
			Balance:  amount,
			USDValue: usd,
		})
	}

	return e
}

// publish forwards a cache write to the message broker. Broker trouble is logged and swallowed: eventing is
// best effort and must not affect the caller.
func (c *Cache) publish(e Entry) {
	if c.mb == nil {
		return
	}

	ev := msg.BalanceEvent{
		Net:          e.Net,
		Address:      e.Address,
		Balance:      e.Native,
		Symbol:       e.Symbol,
		Disconnected: e.Disconnected,
		FetchedAt:    e.FetchedAt,
	}

	if err := c.mb.SendBalance(e.Net, ev); err != nil {
		log.Printf("[%s] Error publishing balance event: %v", e.Net, err)
	}
}
