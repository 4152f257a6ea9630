// Package gwtypes defines the core data types shared across the rollup
// engine: hashes, scripts, cells, accounts, global state, and L2 blocks.
// Follows a convention of small, serializable value structs with
// explicit byte-length fields, generalized from an account-model
// execution client to a UTXO/cell-model rollup.
package gwtypes

import (
	"encoding/hex"
	"fmt"
)

// Hash is a 32-byte blake2b digest used throughout the rollup (state
// roots, block hashes, script hashes, checkpoints).
type Hash [32]byte

// String renders the hash as a 0x-prefixed hex string.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is the all-zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// AccountID is a monotonically assigned 32-bit account identifier.
type AccountID uint32

// Reserved account ids per the data model: meta-contract, CKB-SUDT,
// reserved, ETH-registry.
const (
	MetaContractAccountID AccountID = 0
	CKBSudtAccountID      AccountID = 1
	ReservedAccountID     AccountID = 2
	ETHRegistryAccountID  AccountID = 3
)

// HashType selects how a Script's code_hash is interpreted.
type HashType uint8

const (
	HashTypeData HashType = iota
	HashTypeType
	HashTypeData1
)

// Script is a CKB lock or type script: code_hash selects the program,
// hash_type selects how code_hash is resolved, args is role-specific data.
type Script struct {
	CodeHash Hash
	HashType HashType
	Args     []byte
}

// String renders the script for logs. Script has no hash method; callers
// hash it via codec.HashScript, which avoids an import cycle between
// gwtypes and codec.
func (s Script) String() string {
	return fmt.Sprintf("Script{code_hash:%s,hash_type:%d,args:%x}", s.CodeHash, s.HashType, s.Args)
}

// RegistryID identifies the namespace of a RegistryAddress.
type RegistryID uint32

// EthRegistryID is the well-known registry id for 20-byte Ethereum addresses.
const EthRegistryID RegistryID = 2

// RegistryAddress is a (registry_id, address_bytes) pair mapping an
// external identity to an internal script hash.
type RegistryAddress struct {
	RegistryID RegistryID
	Address    []byte
}

// CellOutput is an L1 cell: capacity plus optional lock/type scripts.
// SUDT amount, when present, is the little-endian u128 stored in the
// first 16 bytes of cell Data.
type CellOutput struct {
	Capacity uint64
	Lock     Script
	Type     *Script
	Data     []byte
}

// OccupiedCapacity returns the minimum capacity (in shannons) this cell
// output must carry: (8 + data_len + type_slice_len + lock_slice_len) * 1e8.
func (c CellOutput) OccupiedCapacity() uint64 {
	size := uint64(8 + len(c.Data))
	size += scriptSliceLen(c.Lock)
	if c.Type != nil {
		size += scriptSliceLen(*c.Type)
	}
	return size * 100_000_000
}

func scriptSliceLen(s Script) uint64 {
	// code_hash(32) + hash_type(1) + args length prefix(4) + args.
	return 32 + 1 + 4 + uint64(len(s.Args))
}

// MerkleState is a committed (root, count) pair, used both for the
// account SMT and the block-number->block-hash SMT.
type MerkleState struct {
	Root  Hash
	Count uint64
}

// GlobalStateStatus is the rollup cell's dispute status.
type GlobalStateStatus uint8

const (
	StatusRunning GlobalStateStatus = iota
	StatusHalting
)

// CompatibleFinalizedTimepoint decides finality uniformly across the
// legacy raw-block-number encoding and the post-fork high-bit-tagged
// timepoint encoding. The legacy form is treated as a historical quirk
// (a raw block number) and never inferred from context.
type CompatibleFinalizedTimepoint uint64

const timepointTagBit = uint64(1) << 63

// NewLegacyTimepoint wraps a raw block number in the legacy encoding.
func NewLegacyTimepoint(blockNumber uint64) CompatibleFinalizedTimepoint {
	return CompatibleFinalizedTimepoint(blockNumber)
}

// NewTaggedTimepoint wraps a timestamp (ms) in the post-fork encoding.
func NewTaggedTimepoint(timestampMs uint64) CompatibleFinalizedTimepoint {
	return CompatibleFinalizedTimepoint(timepointTagBit | timestampMs)
}

// IsTagged reports whether this timepoint uses the post-fork encoding.
func (t CompatibleFinalizedTimepoint) IsTagged() bool {
	return uint64(t)&timepointTagBit != 0
}

// BlockNumber returns the legacy block number. Valid only when !IsTagged().
func (t CompatibleFinalizedTimepoint) BlockNumber() uint64 {
	return uint64(t) &^ timepointTagBit
}

// TimestampMs returns the post-fork timestamp. Valid only when IsTagged().
func (t CompatibleFinalizedTimepoint) TimestampMs() uint64 {
	return uint64(t) &^ timepointTagBit
}

// IsFinalized reports whether this timepoint is finalized given the
// current tip block number and tip timestamp (ms), under a finality
// window of finalityBlocks blocks (legacy) or finalityMs milliseconds
// (tagged).
func (t CompatibleFinalizedTimepoint) IsFinalized(tipNumber uint64, tipTimestampMs uint64, finalityBlocks uint64, finalityMs uint64) bool {
	if t.IsTagged() {
		return tipTimestampMs >= t.TimestampMs()+finalityMs
	}
	return tipNumber >= t.BlockNumber()+finalityBlocks
}

// GlobalState is the rollup cell's committed data.
type GlobalState struct {
	Account                  MerkleState
	Block                    MerkleState
	TipBlockHash             Hash
	LastFinalizedBlockNumber CompatibleFinalizedTimepoint
	RevertedBlockRoot        Hash
	Status                   GlobalStateStatus
	Version                  uint32
	RollupConfigHash         Hash
}

// DepositRequest is a raw user-initiated deposit as recorded in an L2 block body.
type DepositRequest struct {
	Capacity       uint64
	Amount         [16]byte // little-endian u128 SUDT amount
	SudtScriptHash Hash
	Script         Script // target L2 account script
}

// WithdrawalRequest is a raw withdrawal as recorded in an L2 block body.
type WithdrawalRequest struct {
	Nonce             uint32
	Capacity          uint64
	Amount            [16]byte
	SudtScriptHash    Hash
	AccountScriptHash Hash
	RegistryID        RegistryID
	OwnerLockHash     Hash
	PaymentLockHash   Hash
	Sig               []byte
}

// StateCheckpoint is H(merkle_root || account_count), committed at every
// sub-state boundary (PrevTxs, after each withdrawal, after each tx).
type StateCheckpoint Hash

// KVPair is one leaf written into the account SMT while producing a
// block: deposit minting, withdrawal debiting, and transaction
// execution all surface as KVPair writes against the account state
// tree. Not defined in package smt to avoid an import cycle (smt
// already imports gwtypes).
type KVPair struct {
	Key   Hash
	Value Hash
}

// L2Block is a rollup block: header fields, body (deposits, withdrawals,
// transactions), and witness (kv-proof, block-proof, checkpoint list).
type L2Block struct {
	Number                uint64
	ParentBlockHash       Hash
	Timestamp             uint64 // ms
	StakeCellOwnerLockHash Hash
	PrevAccount           MerkleState
	PostAccount           MerkleState

	DepositRequests    []DepositRequest
	WithdrawalRequests []WithdrawalRequest
	Transactions       []L2Transaction

	TxWitnessRoot    Hash
	KVPairs          []KVPair
	KVStateProof     []byte
	BlockProof       []byte
	StateCheckpoints []StateCheckpoint
}

// L2Transaction is one rollup transaction: sender/receiver account ids,
// nonce, call args, and signature.
type L2Transaction struct {
	FromID AccountID
	ToID   AccountID
	Nonce  uint32
	Args   []byte
	Sig    []byte
}

// Raw returns the canonical signed byte layout of the transaction,
// excluding the signature -- used as the message input to lock
// algorithms.
func (tx L2Transaction) Raw() []byte {
	buf := make([]byte, 0, 16+len(tx.Args))
	buf = appendU32(buf, uint32(tx.FromID))
	buf = appendU32(buf, uint32(tx.ToID))
	buf = appendU32(buf, tx.Nonce)
	buf = append(buf, tx.Args...)
	return buf
}

// Raw returns the canonical signed byte layout of the withdrawal
// request, excluding the signature.
func (w WithdrawalRequest) Raw() []byte {
	buf := make([]byte, 0, 128)
	buf = appendU32(buf, w.Nonce)
	buf = appendU64(buf, w.Capacity)
	buf = append(buf, w.Amount[:]...)
	buf = append(buf, w.SudtScriptHash[:]...)
	buf = append(buf, w.AccountScriptHash[:]...)
	buf = appendU32(buf, uint32(w.RegistryID))
	buf = append(buf, w.OwnerLockHash[:]...)
	buf = append(buf, w.PaymentLockHash[:]...)
	return buf
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU64(b []byte, v uint64) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// CellKind identifies the role of a rollup-scoped cell by its lock code hash.
type CellKind int

const (
	CellKindRollup CellKind = iota
	CellKindStake
	CellKindDeposit
	CellKindCustodian
	CellKindWithdrawal
	CellKindChallenge
)

// CustodianLockArgs is the args layout of a custodian cell's lock.
type CustodianLockArgs struct {
	DepositBlockNumber CompatibleFinalizedTimepoint
	DepositBlockHash   Hash
	DepositLockArgs    []byte
}

// DepositLockArgs is the args layout of a deposit cell's lock.
type DepositLockArgs struct {
	OwnerLockHash  Hash
	Layer2Lock     Script
	CancelTimeout  uint64
	RegistryID     RegistryID
}

// WithdrawalLockArgs is the args layout of a withdrawal cell's lock
// (legacy layout, with an inline owner lock script appended for
// unlock-without-indexer-lookup).
type WithdrawalLockArgs struct {
	AccountScriptHash   Hash
	WithdrawalBlockHash Hash
	WithdrawalBlockNum  uint64
	SudtScriptHash      Hash
	SellAmount          [16]byte
	SellCapacity        uint64
	OwnerLockHash       Hash
	PaymentLockHash     Hash
	OwnerLock           Script
}

// StakeLockArgs is the args layout of a stake cell's lock.
type StakeLockArgs struct {
	OwnerLockHash     Hash
	StakeBlockNumber  uint64
}

// ChallengeTargetType names which aspect of a block is under dispute.
type ChallengeTargetType uint8

const (
	ChallengeTargetTxExecution ChallengeTargetType = iota
	ChallengeTargetTxSignature
	ChallengeTargetWithdrawal
)

// ChallengeTarget identifies the disputed (block, index, aspect).
type ChallengeTarget struct {
	BlockHash   Hash
	TargetIndex uint32
	TargetType  ChallengeTargetType
}

// ChallengeLockArgs is the args layout of a challenge cell's lock.
type ChallengeLockArgs struct {
	Target ChallengeTarget
}
