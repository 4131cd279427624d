package database

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/novachain/novad/foundation/blockchain/signature"
)

// =============================================================================

// Tx is the transactional information between two parties.
type Tx struct {
	ChainID   uint16    `json:"chain_id"`  // The chain id the transaction is bound to.
	FromID    AccountID `json:"from"`      // Account sending the value, empty for a coinbase.
	ToID      AccountID `json:"to"`        // Account receiving the benefit of the transaction.
	Value     uint64    `json:"value"`     // Monetary value received from this transaction.
	Tip       uint64    `json:"tip"`       // Tip offered by the sender as an incentive to mine this transaction.
	TimeStamp uint64    `json:"timestamp"` // The time the transaction was signed by the sender.
	Data      []byte    `json:"data"`      // Extra data related to the transaction.
}

// NewTx constructs a new transaction stamped with the current time.
func NewTx(chainID uint16, fromID AccountID, toID AccountID, value uint64, tip uint64, data []byte) (Tx, error) {
	if !fromID.IsAccountID() {
		return Tx{}, fmt.Errorf("from account is not properly formatted")
	}
	if !toID.IsAccountID() {
		return Tx{}, fmt.Errorf("to account is not properly formatted")
	}

	tx := Tx{
		ChainID:   chainID,
		FromID:    fromID,
		ToID:      toID,
		Value:     value,
		Tip:       tip,
		TimeStamp: uint64(time.Now().UTC().Unix()),
		Data:      data,
	}

	return tx, nil
}

// Sign uses the specified private key to sign the transaction. The derived
// address of the signing key must match the from account, a transaction can
// only spend funds its signer owns.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {

	// Validate the to account address is a valid address.
	if !tx.ToID.IsAccountID() {
		return SignedTx{}, fmt.Errorf("to account is not properly formatted")
	}

	// The from account must be the address bound to the signing key.
	if PublicKeyToAccountID(privateKey.PublicKey) != tx.FromID {
		return SignedTx{}, fmt.Errorf("signing key does not belong to the from account")
	}

	// Sign the transaction with the private key to produce a signature.
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	// Construct the signed transaction by adding the signature in the
	// [R|S|V] format and the public key needed to verify it.
	signedTx := SignedTx{
		Tx:        tx,
		PublicKey: signature.PublicKeyString(&privateKey.PublicKey),
		V:         v,
		R:         r,
		S:         s,
	}

	return signedTx, nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the blockchain.
type SignedTx struct {
	Tx
	PublicKey string   `json:"public_key"` // Compressed public key of the account that signed the transaction.
	V         *big.Int `json:"v"`          // Recovery identifier, either 31 or 32 with novaID.
	R         *big.Int `json:"r"`          // First coordinate of the ECDSA signature.
	S         *big.Int `json:"s"`          // Second coordinate of the ECDSA signature.
}

// NewCoinbaseTx constructs the reward transaction a miner places in the first
// position of a block. It carries no sender and no signature and the block
// height is recorded in the data field so every coinbase hashes unique.
func NewCoinbaseTx(chainID uint16, beneficiaryID AccountID, reward uint64, height uint64) SignedTx {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, height)

	return SignedTx{
		Tx: Tx{
			ChainID:   chainID,
			ToID:      beneficiaryID,
			Value:     reward,
			TimeStamp: uint64(time.Now().UTC().Unix()),
			Data:      data,
		},
		V: big.NewInt(0),
		R: big.NewInt(0),
		S: big.NewInt(0),
	}
}

// IsCoinbase reports whether this transaction is a block reward. A coinbase
// carries no sender account.
func (tx SignedTx) IsCoinbase() bool {
	return tx.FromID == ""
}

// Validate verifies the transaction has a proper signature that conforms to
// our standards, that it was produced by the key the transaction carries and
// that the key is bound to the from account. Coinbase transactions are not
// accepted here, they are only valid inside a block.
func (tx SignedTx) Validate(chainID uint16) error {
	if tx.ChainID != chainID {
		return fmt.Errorf("transaction invalid, wrong chain id, got %d, exp %d", tx.ChainID, chainID)
	}

	if tx.IsCoinbase() {
		return errors.New("coinbase transaction outside of a block")
	}

	if !tx.FromID.IsAccountID() {
		return errors.New("invalid account for from account")
	}

	if !tx.ToID.IsAccountID() {
		return errors.New("invalid account for to account")
	}

	if tx.FromID == tx.ToID {
		return fmt.Errorf("transaction invalid, sending money to yourself, from %s, to %s", tx.FromID, tx.ToID)
	}

	if err := signature.VerifyWithPublicKey(tx.Tx, tx.PublicKey, tx.V, tx.R, tx.S); err != nil {
		return err
	}

	// The public key that produced the signature must hash to the
	// from account.
	address, err := signature.DeriveAddress(tx.PublicKey)
	if err != nil {
		return err
	}
	if AccountID(address) != tx.FromID {
		return errors.New("public key does not hash to the from account")
	}

	return nil
}

// UniqueKey returns the hash that identifies this transaction in the mempool,
// in the block data index and on the network.
func (tx SignedTx) UniqueKey() string {
	return signature.Hash(tx)
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	if tx.IsCoinbase() {
		return fmt.Sprintf("coinbase:%s:%d", tx.ToID, tx.Value)
	}

	return fmt.Sprintf("%s:%d:%d", tx.FromID, tx.Value, tx.TimeStamp)
}

// Hash implements the merkle Hashable interface for providing a hash
// of a block transaction.
func (tx SignedTx) Hash() ([]byte, error) {
	str := signature.Hash(tx)
	return hex.DecodeString(str[2:])
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two block transactions. If the timestamps and signatures are
// the same, the two transactions are the same.
func (tx SignedTx) Equals(otherTx SignedTx) bool {
	txSig := signature.ToSignatureBytes(tx.V, tx.R, tx.S)
	otherTxSig := signature.ToSignatureBytes(otherTx.V, otherTx.R, otherTx.S)

	return tx.TimeStamp == otherTx.TimeStamp && bytes.Equal(txSig, otherTxSig)
}
