// Package custody and its sub-packages implement the wallet custody and multi-network balance synchronization
// backend of the escrow dashboard.
/*
custody provides one microservice (package service) exposing a RESTful API with two responsibilities:

1) wallet custody: a single encrypted wallet record per device profile, created from a fresh key pair or imported
 from a recovery phrase or raw private key, unlocked into an in-memory session gated by a password and an
 auto-lock deadline. Key material is encrypted at rest with a memory-hard KDF and authenticated encryption and is
 never persisted in clear.

2) balance synchronization: a live, subscribable cache of native and token balances for the active wallet across
 several independent blockchain networks. Each network carries an ordered list of fallback RPC endpoints; a pool
 (package lib/chain/pool) probes them in order, caches the first responsive endpoint and evicts it on any later
 failure, so flaky, rate-limited or dead endpoints degrade a single network to a "disconnected" reading instead
 of failing the whole view.

Architecture

A blockchain layer (package lib/chain) wraps the JSON-RPC client so new network types can be added. The wallet
record is persisted through a database product agnostic layer (package lib/store) with MongoDB and PostgreSQL
implementations, selected via the JSON config file provided at startup. Every balance cache write can optionally
be published to a message broker (package lib/msg, AMQP implementation provided) so dashboard front-ends receive
live updates without polling the API.

All managers are constructed once at process start in cmd/custodyd and passed by reference to the service; there
are no package-level singletons. The service can be monitored via a Prometheus API by setting the flag "-m" at
startup.
*/
package custody
