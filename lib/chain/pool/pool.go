// Package pool maintains one healthy RPC connection per configured network. For each network the ordered
// endpoint list (preferred node first, then fallbacks) is probed until one answers a liveness check within the
// probe timeout; that connection is cached and reused until a caller reports a failure against it, at which
// point it is evicted so the next request re-probes from the top of the list. Total failure of a network is
// reported as a nil connection, never as an error that aborts the caller.
package pool

import (
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/escrowpay/custody/lib/chain"
	"github.com/escrowpay/custody/lib/chain/ethereum"
	"github.com/escrowpay/custody/lib/config"
)

var (
	probeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_rpc_probe_total",
		Help: "RPC endpoint liveness probes by network and result.",
	}, []string{"network", "result"})

	evictTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_rpc_evictions_total",
		Help: "Cached RPC endpoints evicted after a call failure, by network.",
	}, []string{"network"})
)

// Dialer opens a connection to one RPC endpoint.
type Dialer func(node, secret string) (chain.Conn, error)

// netState holds the cached connection for one network. Its mutex serializes probing so concurrent callers for
// the same network share a single probe sequence instead of racing duplicates.
type netState struct {
	mu   sync.Mutex
	conn chain.Conn
	url  string
}

// Pool probes and caches connections for every configured network.
type Pool struct {
	mu      sync.Mutex
	nets    []config.NetworkConfig
	byName  map[string]config.NetworkConfig
	states  map[string]*netState
	timeout time.Duration
	dial    Dialer
}

// New returns a Pool over the given networks. probeTimeout bounds each endpoint liveness probe.
func New(nets []config.NetworkConfig, probeTimeout time.Duration) *Pool {
	byName := make(map[string]config.NetworkConfig, len(nets))
	for _, n := range nets {
		byName[n.Name] = n
	}

	return &Pool{
		nets:    nets,
		byName:  byName,
		states:  make(map[string]*netState),
		timeout: probeTimeout,
		dial: func(node, secret string) (chain.Conn, error) {
			return ethereum.Dial(node, secret)
		},
	}
}

// SetDialer overrides how endpoint connections are opened (useful for testing).
func (p *Pool) SetDialer(d Dialer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dial = d
}

// Networks returns the configured networks in registry order.
func (p *Pool) Networks() []config.NetworkConfig {
	return p.nets
}

// Network returns the config for the named network.
func (p *Pool) Network(name string) (config.NetworkConfig, bool) {
	n, ok := p.byName[name]

	return n, ok
}

func (p *Pool) state(net string) *netState {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[net]
	if !ok {
		st = new(netState)
		p.states[net] = st
	}

	return st
}

// Get returns a working connection for the named network, or nil when no endpoint in the fallback list is
// currently reachable. A cached healthy endpoint is returned without re-probing.
func (p *Pool) Get(net string) chain.Conn {
	cfg, ok := p.byName[net]
	if !ok {
		return nil
	}

	st := p.state(net)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.conn != nil {
		return st.conn
	}

	for _, url := range cfg.Endpoints() {
		if c := p.probe(url, cfg.Secret); c != nil {
			log.Printf("[%s] Using RPC endpoint %s", net, url)
			probeTotal.WithLabelValues(net, "ok").Inc()

			st.conn = c
			st.url = url

			return c
		}

		log.Printf("[%s] RPC endpoint %s unreachable, trying next fallback", net, url)
		probeTotal.WithLabelValues(net, "fail").Inc()
	}

	log.Printf("[%s] No reachable RPC endpoint", net)

	return nil
}

// probe dials the endpoint and races the liveness check against the probe timeout. The probing goroutine
// always delivers an outcome on the buffered channel, nil included, so a refused dial fails the probe
// immediately instead of running out the timer. On timeout a reaper drains the channel and closes whatever
// connection arrives late, so the loser of the race cannot leak.
func (p *Pool) probe(url, secret string) chain.Conn {
	p.mu.Lock()
	dial := p.dial
	p.mu.Unlock()

	done := make(chan chain.Conn, 1)

	go func() {
		c, err := dial(url, secret)
		if err != nil {
			done <- nil

			return
		}

		if err = c.Probe(); err != nil {
			c.Close()
			done <- nil

			return
		}

		done <- c
	}()

	t := time.NewTimer(p.timeout)
	defer t.Stop()

	select {
	case c := <-done:
		return c
	case <-t.C:
		go func() {
			if c := <-done; c != nil {
				c.Close()
			}
		}()

		return nil
	}
}

// Evict drops the cached connection for the named network so the next Get re-probes from the top of the
// fallback list. Callers must evict after any RPC failure against a pooled connection.
func (p *Pool) Evict(net string) {
	st := p.state(net)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.conn != nil {
		log.Printf("[%s] Evicting RPC endpoint %s", net, st.url)
		evictTotal.WithLabelValues(net).Inc()

		st.conn.Close()
		st.conn = nil
		st.url = ""
	}
}

// Close drops every cached connection. Must be called at termination time.
func (p *Pool) Close() {
	for net := range p.byName {
		st := p.state(net)
		st.mu.Lock()

		if st.conn != nil {
			st.conn.Close()
			st.conn = nil
		}

		st.mu.Unlock()
	}
}

// GetBalance returns the native balance of the address on the named network, or nil when the network has no
// reachable endpoint or the call fails. A failed call evicts the cached endpoint.
func (p *Pool) GetBalance(address, net string) *big.Int {
	c := p.Get(net)
	if c == nil {
		return nil
	}

	var bal, tokBal big.Int

	if err := c.Balance(address, "", &bal, &tokBal); err != nil {
		log.Printf("[%s] error getting balance for %s: %v", net, address, err)
		p.Evict(net)

		return nil
	}

	return &bal
}

// FindTransaction scans every configured network in order and returns the first one that recognizes the hash,
// along with the transaction details. The caller does not know a priori which chain a hash belongs to. ok is
// false when no network recognizes it.
func (p *Pool) FindTransaction(hash string) (net string, tx chain.Tx, ok bool) {
	for _, n := range p.nets {
		c := p.Get(n.Name)
		if c == nil {
			continue
		}

		t, err := c.Get(hash)
		if err != nil {
			// unknown hash on this chain, or a dead endpoint; either way move on
			continue
		}

		return n.Name, t, true
	}

	return "", chain.Tx{}, false
}
