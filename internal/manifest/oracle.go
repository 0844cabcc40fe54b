// Package manifest implements QuantumFS's manifest oracle adapter
// (spec.md §4.6): the on-chain trust anchor that publishes the latest
// (and every historical) RevisionTag for an account. Grounded on
// go-ethereum's ethclient/accounts/abi/bind stack, the only on-chain
// client present in the example pack.
package manifest

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quantumfs/quantumfs/internal/hashutil"
	"github.com/quantumfs/quantumfs/internal/qfserrors"
)

// genesisSentinel is the zero-padded 46-character placeholder the
// contract returns in place of a root hash when no revision has been
// published yet. It happens to satisfy ObjectHash's shape regex (all
// digits are alphanumeric), so it must be recognized by exact string
// comparison rather than by hashutil.ParseHash failing.
var genesisSentinel = strings.Repeat("0", 46)

// Tag is the wire-level revision pointer the oracle returns. RootHash
// is nil when the contract reported the genesis sentinel, meaning "no
// revision has been published for this account yet" — a distinct
// concept from any particular catalog's hash, so callers (cmd/qfs) are
// responsible for turning this into a revision.RevisionTag.
type Tag struct {
	RootHash       *hashutil.ObjectHash
	RevisionNumber *big.Int
}

// IsGenesis reports whether tag carries the genesis sentinel.
func (t Tag) IsGenesis() bool { return t.RootHash == nil }

// Oracle reports the current and historical RevisionTags published by
// the trust-anchor contract for a given client account.
type Oracle interface {
	// Current returns the latest tag for client.
	Current(ctx context.Context, client common.Address) (Tag, error)

	// At returns the tag at a specific revision number. Fails with
	// qfserrors.CodeNoSuchRevision when revisionNumber is out of range.
	At(ctx context.Context, client common.Address, revisionNumber *big.Int) (Tag, error)
}

// oracleABIJSON describes the two read-only methods QuantumFS calls on
// the trust-anchor contract: current(address), returning (rootHash
// string, revision uint256), and at(address,uint256), returning
// rootHash string only.
const oracleABIJSON = `[
	{"constant":true,"inputs":[{"name":"client","type":"address"}],
	 "name":"current","outputs":[{"name":"rootHash","type":"string"},{"name":"revision","type":"uint256"}],
	 "stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"client","type":"address"},{"name":"revision","type":"uint256"}],
	 "name":"at","outputs":[{"name":"rootHash","type":"string"}],
	 "stateMutability":"view","type":"function"}
]`

// EthereumOracle implements Oracle against a deployed trust-anchor
// contract, reached over a Web3 JSON-RPC endpoint.
type EthereumOracle struct {
	client   *ethclient.Client
	bound    *bind.BoundContract
	contract common.Address
}

// Dial connects to web3Endpoint and binds to the trust-anchor contract
// at contractAddr.
func Dial(web3Endpoint string, contractAddr common.Address) (*EthereumOracle, error) {
	client, err := ethclient.Dial(web3Endpoint)
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeStoreUnreachable, "dial web3 endpoint", err).WithComponent("manifest")
	}

	parsedABI, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		return nil, qfserrors.Wrap(qfserrors.CodeIO, "parse trust anchor ABI", err).WithComponent("manifest")
	}

	bound := bind.NewBoundContract(contractAddr, parsedABI, client, client, client)
	return &EthereumOracle{client: client, bound: bound, contract: contractAddr}, nil
}

// Close releases the underlying RPC connection.
func (o *EthereumOracle) Close() { o.client.Close() }

// Current returns client's latest published RevisionTag.
func (o *EthereumOracle) Current(ctx context.Context, client common.Address) (Tag, error) {
	var out []interface{}
	err := o.bound.Call(&bind.CallOpts{Context: ctx}, &out, "current", client)
	if err != nil {
		return Tag{}, qfserrors.Wrap(qfserrors.CodeStoreUnreachable, "call trust anchor current()", err).WithComponent("manifest")
	}
	return decodeTag(out[0].(string), out[1].(*big.Int))
}

// At returns client's RevisionTag at revisionNumber.
func (o *EthereumOracle) At(ctx context.Context, client common.Address, revisionNumber *big.Int) (Tag, error) {
	var out []interface{}
	err := o.bound.Call(&bind.CallOpts{Context: ctx}, &out, "at", client, revisionNumber)
	if err != nil {
		return Tag{}, qfserrors.Wrap(qfserrors.CodeNoSuchRevision, "call trust anchor at()", err).
			WithComponent("manifest").WithDetail("revision", revisionNumber.String())
	}
	return decodeTag(out[0].(string), revisionNumber)
}

func decodeTag(rootHash string, revisionNumber *big.Int) (Tag, error) {
	if rootHash == genesisSentinel {
		return Tag{RootHash: nil, RevisionNumber: revisionNumber}, nil
	}
	h, err := hashutil.ParseHash(rootHash)
	if err != nil {
		return Tag{}, qfserrors.Wrap(qfserrors.CodeInvalidHash, "trust anchor returned malformed root hash", err).WithComponent("manifest")
	}
	return Tag{RootHash: &h, RevisionNumber: revisionNumber}, nil
}
