package engine

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/blake3"
)

// ChainID identifies a microchain.
type ChainID common.Hash

// NewChainID derives a chain id from a human readable seed.
func NewChainID(seed string) ChainID {
	return ChainID(derive("chain", []byte(seed)))
}

func HexToChainID(s string) ChainID { return ChainID(common.HexToHash(s)) }

func (c ChainID) Hash() common.Hash { return common.Hash(c) }
func (c ChainID) IsZero() bool      { return c == ChainID{} }
func (c ChainID) String() string    { return common.Hash(c).Hex() }

// Short returns the first bytes of the id for log lines.
func (c ChainID) Short() string { return common.Hash(c).Hex()[:10] }

func (c ChainID) Less(d ChainID) bool { return common.Hash(c).Cmp(common.Hash(d)) < 0 }

func (c ChainID) MarshalText() ([]byte, error) { return common.Hash(c).MarshalText() }

func (c *ChainID) UnmarshalText(input []byte) error {
	return (*common.Hash)(c).UnmarshalText(input)
}

// ApplicationID identifies an application instance across all chains.
type ApplicationID common.Hash

// NewApplicationID derives the id of the nonce-th application created by module on creator.
func NewApplicationID(creator ChainID, module string, nonce uint64) ApplicationID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return ApplicationID(derive("application", creator[:], []byte(module), buf[:]))
}

func HexToApplicationID(s string) ApplicationID { return ApplicationID(common.HexToHash(s)) }

func (a ApplicationID) Hash() common.Hash { return common.Hash(a) }
func (a ApplicationID) IsZero() bool      { return a == ApplicationID{} }
func (a ApplicationID) String() string    { return common.Hash(a).Hex() }
func (a ApplicationID) Short() string     { return common.Hash(a).Hex()[:10] }

// Less orders ids bytewise.
func (a ApplicationID) Less(b ApplicationID) bool { return common.Hash(a).Cmp(common.Hash(b)) < 0 }

func (a ApplicationID) MarshalText() ([]byte, error) { return common.Hash(a).MarshalText() }

func (a *ApplicationID) UnmarshalText(input []byte) error {
	return (*common.Hash)(a).UnmarshalText(input)
}

// Owner is a signer or an application acting as a balance holder.
type Owner common.Hash

// NewOwner derives an owner from a seed, typically a user name in tests and genesis files.
func NewOwner(seed string) Owner {
	return Owner(derive("owner", []byte(seed)))
}

// ApplicationOwner is the owner under which an application holds balances.
func ApplicationOwner(app ApplicationID) Owner {
	return Owner(derive("application-owner", app[:]))
}

func HexToOwner(s string) Owner { return Owner(common.HexToHash(s)) }

func (o Owner) IsZero() bool   { return o == Owner{} }
func (o Owner) String() string { return common.Hash(o).Hex() }

func (o Owner) MarshalText() ([]byte, error) { return common.Hash(o).MarshalText() }

func (o *Owner) UnmarshalText(input []byte) error {
	return (*common.Hash)(o).UnmarshalText(input)
}

// Account is a balance holder on a specific chain.
type Account struct {
	ChainID ChainID `json:"chainId"`
	Owner   Owner   `json:"owner"`
}

func (a Account) String() string {
	return a.ChainID.String() + ":" + a.Owner.String()
}

func (a Account) IsZero() bool { return a.ChainID.IsZero() && a.Owner.IsZero() }

// MarshalText lets Account be used as a JSON object key.
func (a Account) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Account) UnmarshalText(input []byte) error {
	chain, owner, ok := strings.Cut(string(input), ":")
	if !ok {
		return fmt.Errorf("invalid account %q: expected <chain>:<owner>", input)
	}
	if err := a.ChainID.UnmarshalText([]byte(chain)); err != nil {
		return fmt.Errorf("invalid account chain: %w", err)
	}
	if err := a.Owner.UnmarshalText([]byte(owner)); err != nil {
		return fmt.Errorf("invalid account owner: %w", err)
	}
	return nil
}

// Timestamp is a point in time in microseconds since the Unix epoch.
type Timestamp uint64

func TimestampFromTime(t time.Time) Timestamp { return Timestamp(t.UnixMicro()) }

func (t Timestamp) Time() time.Time { return time.UnixMicro(int64(t)) }

// Since returns the time elapsed from earlier to t, or zero when earlier is after t.
func (t Timestamp) Since(earlier Timestamp) time.Duration {
	if earlier >= t {
		return 0
	}
	return time.Duration(t-earlier) * time.Microsecond
}

func derive(domain string, parts ...[]byte) common.Hash {
	h := blake3.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(p)))
		h.Write(l[:])
		h.Write(p)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}
