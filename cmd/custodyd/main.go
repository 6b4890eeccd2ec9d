// Package main: custody service.
//
// The service keeps exactly one wallet record in the database, sealed under the user's password. RPC
// endpoints are probed lazily per network, so the daemon starts even when every node is down; balances for
// unreachable networks are served flagged as disconnected.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/escrowpay/custody/lib/balance"
	"github.com/escrowpay/custody/lib/chain/pool"
	"github.com/escrowpay/custody/lib/config"
	"github.com/escrowpay/custody/lib/msg"
	"github.com/escrowpay/custody/lib/msg/amqp"
	"github.com/escrowpay/custody/lib/price"
	"github.com/escrowpay/custody/lib/session"
	"github.com/escrowpay/custody/lib/store"
	"github.com/escrowpay/custody/lib/store/db"
	"github.com/escrowpay/custody/lib/vault"
	"github.com/escrowpay/custody/service"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9100")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if dbConn, err = db.New(conf.DBType, conf.DBConn); err != nil {
		panic(err)
	}

	log.Printf("Connecting to database:%+v\n", conf.DBConn)

	// load the endpoint pool, endpoints are probed on first use
	p := pool.New(conf.Networks, time.Duration(conf.ProbeSec)*time.Second)

	log.Print("Endpoint pool loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.Broker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	case "":
		log.Print("No message broker configured, balance events will not be published")
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// load vault and session manager
	sessions := session.NewManager(time.Duration(conf.AutoLockMin) * time.Minute)
	v := vault.New(dbConn, conf.VaultName, sessions)

	// load price oracle, static pricing unless an oracle url is configured
	var oracle price.Oracle = price.DefaultStatic()
	if conf.PriceURL != "" {
		oracle = price.NewHTTP(conf.PriceURL, price.DefaultStatic())
	}

	// load balance cache
	bc := balance.New(p, oracle, mb)

	// create custody service
	s := service.New(conf.DBType, dbConn, mb, p, v, sessions, bc)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		s.Stop()
		close(finish)
	}()

	// manage balance events published to the broker
	if err := s.ManageEvents(); err != nil {
		log.Printf("Error setting up broker readers for balance events:%e", err)
	}

	// init RESTful API, wait for its return and log response
	log.Printf("Custody: %s\n", s.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
