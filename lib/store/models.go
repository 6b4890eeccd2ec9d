package store

import "time"

// SealedBlob holds one authenticated-encryption envelope: base64 encoded salt, nonce and ciphertext. The salt
// feeds the KDF, the nonce the cipher; neither is secret but both are required to open the blob.
type SealedBlob struct {
	Salt       string `json:"salt" bson:"salt"`
	Nonce      string `json:"nonce" bson:"nonce"`
	CipherText string `json:"cipherText" bson:"cipherText"`
}

// WalletRecord contains the fields persisted for a wallet. Key always holds the sealed private key; Mnemonic is
// only present for wallets created locally or imported from a recovery phrase. No plaintext key material ever
// appears here.
type WalletRecord struct {
	Address   string      `json:"address" bson:"address"`
	Name      string      `json:"name" bson:"name"`
	Key       SealedBlob  `json:"key" bson:"key"`
	Mnemonic  *SealedBlob `json:"mnemonic,omitempty" bson:"mnemonic,omitempty"`
	Imported  bool        `json:"imported" bson:"imported"`
	CreatedAt time.Time   `json:"createdAt" bson:"createdAt"`
}
