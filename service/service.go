// package service implements the custody microservice.
//
// This microservice implements a RESTful API for the escrow dashboard frontend to manage the local wallet and
// read balances across the configured networks. Key material only ever leaves the vault through the explicit
// export endpoints of an unlocked session.
package service

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/escrowpay/custody/lib/balance"
	"github.com/escrowpay/custody/lib/chain/pool"
	"github.com/escrowpay/custody/lib/msg"
	"github.com/escrowpay/custody/lib/session"
	"github.com/escrowpay/custody/lib/store"
	"github.com/escrowpay/custody/lib/store/db"
	"github.com/escrowpay/custody/lib/vault"
)

// Service contains the data necessary to deliver the custody API.
type Service struct {
	dbtype   string
	db       store.DB         // db connection
	mb       msg.Broker       // message broker, may be nil
	pool     *pool.Pool       // blockchain endpoint pool
	vault    *vault.Vault     // encrypted key storage
	sessions *session.Manager // unlocked wallet session
	balances *balance.Cache   // per network balance cache
	s        *http.Server     // http server
	ss       *http.Server     // https server
	sc       chan struct{}    // http server channel used for graceful shutdowns
}

// New returns a pointer to a new custody Service.
func New(dbtype string, dbConn store.DB, mb msg.Broker, p *pool.Pool, v *vault.Vault, sm *session.Manager,
	bc *balance.Cache) *Service {
	return &Service{
		dbtype:   dbtype,
		db:       dbConn,
		mb:       mb,
		pool:     p,
		vault:    v,
		sessions: sm,
		balances: bc,
	}
}

// Stop shuts down the http servers implementing the RESTful API, locks the wallet and closes gracefully the
// connections to the message broker, the endpoint pool and the database.
func (s *Service) Stop() {
	var err error
	// shutdown http server
	if s.s != nil {
		if err = s.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}

	if s.ss != nil {
		if err = s.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}

	close(s.sc) // close server channel to indicate shutdowns have finished

	// lock the wallet so no key material survives in memory
	s.sessions.Lock()

	// close endpoint pool
	s.pool.Close()

	// close message broker
	if s.mb != nil {
		if err = s.mb.Close(); err != nil {
			log.Printf("Error closing message broker:%e", err)
		}
	}

	// close database
	if s.db != nil {
		err = db.Close(s.dbtype, s.db)
		log.Printf("Disconnecting %v database, err:%e\n", s.dbtype, err)
	}
}

// ManageEvents starts go routines to consume the broker balance queues, so a second dashboard instance (or an
// auditing process) can follow balance updates published by this one. For each configured network two channels
// are opened, one for balance events, and one for errors.
func (s *Service) ManageEvents() error {
	if s.mb == nil {
		return nil
	}

	for _, n := range s.pool.Networks() {
		var mut *sync.Mutex = new(sync.Mutex)
		mut.Lock()

		eveCh, errCh, err := s.mb.GetBalances(n.Name, mut)
		if err != nil {
			return err
		}

		// launch balance channel reader
		go func(netName string) {
			log.Printf("[%s] Start listening to balance event channel", netName)
			for eve := range eveCh {
				log.Printf("[%s] Received balance event %+v", netName, eve)
				mut.Unlock()
			}
			log.Printf("[%s] Stop listening to balance event channel", netName)
		}(n.Name)

		// launch error channel reader
		go func(netName string) {
			log.Printf("[%s] Start listening to err channel", netName)
			for e := range errCh {
				log.Printf("[%s] Received error %+v", netName, e)
			}
			log.Printf("[%s] Stop listening to err channel", netName)
		}(n.Name)
	}

	return nil
}
