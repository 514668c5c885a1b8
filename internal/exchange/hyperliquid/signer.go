package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// Signature is the r/s/v triple the exchange endpoint expects.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// Signer produces the L1-action signatures the venue requires. Split out as
// an interface so tests and remote-signing setups can replace the local key.
type Signer interface {
	SignAction(action any, nonce int64) (Signature, error)
	Address() string
}

// LocalSigner signs actions with an in-process secp256k1 key using the
// venue's phantom-agent EIP-712 scheme: the action is msgpack-encoded,
// extended with the nonce and vault byte, keccak-hashed into a connection id,
// and the resulting Agent struct is what actually gets signed.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address string
	source  string // "a" for mainnet, "b" for testnet
}

// NewLocalSigner parses a hex private key. testnet selects the agent source
// the venue expects for its test environment.
func NewLocalSigner(privateKeyHex string, testnet bool) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: parse private key: %w", err)
	}
	source := "a"
	if testnet {
		source = "b"
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		source:  source,
	}, nil
}

// Address returns the signer's checksummed wallet address.
func (s *LocalSigner) Address() string { return s.address }

// SignAction hashes the action and signs the phantom agent digest.
func (s *LocalSigner) SignAction(action any, nonce int64) (Signature, error) {
	connectionID, err := actionHash(action, nonce)
	if err != nil {
		return Signature{}, err
	}

	digest := agentDigest(s.source, connectionID)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, fmt.Errorf("hyperliquid: sign: %w", err)
	}

	return Signature{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: sig[64] + 27,
	}, nil
}

// actionHash computes keccak256(msgpack(action) || nonce_be64 || 0x00). The
// trailing zero byte marks "no vault address".
func actionHash(action any, nonce int64) ([]byte, error) {
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: pack action: %w", err)
	}

	data := make([]byte, 0, len(packed)+9)
	data = append(data, packed...)
	data = binary.BigEndian.AppendUint64(data, uint64(nonce))
	data = append(data, 0x00)

	return crypto.Keccak256(data), nil
}

// agentDigest builds the EIP-712 digest for Agent{source, connectionId}
// under the venue's fixed Exchange domain (chain id 1337, zero contract).
func agentDigest(source string, connectionID []byte) []byte {
	domainSeparator := crypto.Keccak256(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")),
		crypto.Keccak256([]byte("Exchange")),
		crypto.Keccak256([]byte("1")),
		uint256Bytes(1337),
		make([]byte, 32), // zero address, left-padded
	)

	structHash := crypto.Keccak256(
		crypto.Keccak256([]byte("Agent(string source,bytes32 connectionId)")),
		crypto.Keccak256([]byte(source)),
		connectionID,
	)

	return crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, structHash)
}

func uint256Bytes(v uint64) []byte {
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[24:], v)
	return out
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
