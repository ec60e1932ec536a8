package core

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

const GenesisHashSeed = "nexoledger:genesis:v1"

// StateHasher computes deterministic state hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hash := ChainHash(h.prevHash, sequence, stateDigest)
	h.prevHash = hash
	return hash
}

// ChainHash is one link of the chain, without side effects. Replay
// verification uses it directly.
func ChainHash(prev [32]byte, sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash moves the chain tip, used when restoring from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// digestWriter builds the canonical byte form of state for hashing.
type digestWriter struct {
	buf []byte
}

func (d *digestWriter) str(s string) {
	d.uvarint(uint64(len(s)))
	d.buf = append(d.buf, s...)
}

func (d *digestWriter) uvarint(v uint64) {
	d.buf = binary.AppendUvarint(d.buf, v)
}

func (d *digestWriter) flag(b bool) {
	if b {
		d.buf = append(d.buf, 1)
	} else {
		d.buf = append(d.buf, 0)
	}
}

// amount writes sign then length-prefixed magnitude.
func (d *digestWriter) amount(v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	d.buf = append(d.buf, byte(v.Sign()+1))
	mag := v.Bytes()
	d.uvarint(uint64(len(mag)))
	d.buf = append(d.buf, mag...)
}
