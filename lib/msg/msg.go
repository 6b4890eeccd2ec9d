// Package msg defines the interface for different message brokers carrying balance update events.
package msg

import (
	"sync"
	"time"
)

// BalanceEvent is published on every balance cache write so front-ends can observe live updates without
// polling the API.
type BalanceEvent struct {
	Net          string    `json:"net"`
	Address      string    `json:"address"`
	Balance      string    `json:"balance"`
	Symbol       string    `json:"symbol"`
	Disconnected bool      `json:"disconnected"`
	FetchedAt    time.Time `json:"fetchedAt"`
}

type Broker interface {
	Setup(interface{}) error
	Close() error

	// SendBalance publishes a balance update event for the network.
	SendBalance(net string, ev BalanceEvent) error
	// GetBalances consumes balance events for the network. The Mutex pointer is provided so the consumed
	// message is only acknowledged when the consumer unlocks it.
	GetBalances(net string, mut *sync.Mutex) (<-chan BalanceEvent, <-chan error, error)
}
