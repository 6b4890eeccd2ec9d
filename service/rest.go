package service

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Router builds the API route table. Kept separate from Init so tests can exercise the handlers without
// binding a listener.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.homeHandler)
	r.HandleFunc("/networks", s.networksHandler).Methods("GET")                     // get configured blockchains
	r.HandleFunc("/wallet", s.walletStatusHandler).Methods("GET")                   // wallet existence and lock state
	r.HandleFunc("/wallet", s.createWalletHandler).Methods("POST")                  // create a new wallet
	r.HandleFunc("/wallet", s.deleteWalletHandler).Methods("DELETE")                // delete the stored wallet
	r.HandleFunc("/wallet/import", s.importWalletHandler).Methods("POST")           // import mnemonic or private key
	r.HandleFunc("/wallet/unlock", s.unlockHandler).Methods("POST")                 // unlock with password
	r.HandleFunc("/wallet/lock", s.lockHandler).Methods("POST")                     // lock the session
	r.HandleFunc("/wallet/export/key", s.exportKeyHandler).Methods("GET")           // reveal private key
	r.HandleFunc("/wallet/export/mnemonic", s.exportMnemonicHandler).Methods("GET") // reveal mnemonic
	r.HandleFunc("/balance/{address}", s.balanceHandler).Methods("GET")             // balances across networks
	r.HandleFunc("/balance/{address}/total", s.totalHandler).Methods("GET")         // approximate USD value
	r.HandleFunc("/send", s.sendHandler).Methods("POST")                            // send a transaction
	r.HandleFunc("/tx/{hash}", s.txHandler).Methods("GET")                          // get transaction details

	return r
}

// Init sets up and starts the http/https server to service the RESTful API. If sslPort, sslCert and sslKey
// are informed, it will start an https (TLS) server on the specified endpoint.
func (s *Service) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := s.Router()
	http.Handle("/", r)

	// setup shutdown channel
	s.sc = make(chan struct{})

	// start http server
	if port != "" {
		s.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = s.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		s.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = s.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-s.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
