// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/escrowpay/custody/lib/store"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// mongoRecord wraps a store.WalletRecord with the vault name as document id so PutWallet upserts in place.
type mongoRecord struct {
	ID     string             `bson:"_id"`
	Record store.WalletRecord `bson:"record"`
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// PutWallet saves the wallet record under the given vault name, replacing any existing record.
func (m *Mongo) PutWallet(name string, r store.WalletRecord) error {
	col := m.c.Database("vault").Collection("wallets")

	_, err := col.UpdateOne(context.Background(),
		bson.M{"_id": name},
		bson.M{"$set": bson.M{"record": r}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save wallet record in db: %w", err)
	}

	return nil
}

// GetWallet loads the wallet record stored under the given vault name.
func (m *Mongo) GetWallet(name string) (store.WalletRecord, error) {
	col := m.c.Database("vault").Collection("wallets")

	var mr mongoRecord

	err := col.FindOne(context.Background(), bson.M{"_id": name}).Decode(&mr)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.WalletRecord{}, store.ErrWalletNotFound
	}

	if err != nil {
		return store.WalletRecord{}, store.ErrStoreCorrupted
	}

	return mr.Record, nil
}

// DeleteWallet removes the wallet record stored under the given vault name.
func (m *Mongo) DeleteWallet(name string) error {
	col := m.c.Database("vault").Collection("wallets")

	res, err := col.DeleteOne(context.Background(), bson.M{"_id": name})
	if err != nil {
		return fmt.Errorf("could not delete wallet record from db: %w", err)
	}

	if res.DeletedCount != 1 {
		return store.ErrWalletNotFound
	}

	return nil
}
