// Package ringid implements 128-bit ring identifier arithmetic (spec §3,
// §4.1 component A): NodeId, NodeInstance, and NodeIdRange. The teacher's
// utils/ids package re-exports a foreign 20-byte chain address type; a
// federation ring point is a 128-bit modular value instead, so this package
// owns its own type rather than wrapping luxfi/ids.NodeID.
package ringid

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/cespare/xxhash/v2"
)

// NodeId is an unsigned 128-bit value on the ring, stored big-endian as two
// 64-bit words (hi, lo) so comparisons and wraparound arithmetic stay cheap.
type NodeId struct {
	Hi, Lo uint64
}

// Zero is the ring's origin point.
var Zero = NodeId{}

// Max is the greatest representable ring point (2^128 - 1).
var Max = NodeId{Hi: ^uint64(0), Lo: ^uint64(0)}

// FromBytes hashes an arbitrary byte string (e.g. a physical address, for
// join bootstrap) into a candidate ring id by hashing it twice with
// xxhash, under the prefix byte 0x01 for the hi word and 0x02 for the lo
// word.
func FromBytes(b []byte) NodeId {
	return NodeId{
		Hi: xxhash.Sum64(append([]byte{0x01}, b...)),
		Lo: xxhash.Sum64(append([]byte{0x02}, b...)),
	}
}

// FromUint64 places a small integer at the low word, useful for tests and
// seed-voter ids.
func FromUint64(v uint64) NodeId { return NodeId{Lo: v} }

func (n NodeId) String() string {
	return fmt.Sprintf("%016x%016x", n.Hi, n.Lo)
}

func (n NodeId) Equal(o NodeId) bool { return n.Hi == o.Hi && n.Lo == o.Lo }

// Less is the ring's fixed total order (not wraparound distance), used for
// sorting the RoutingTable vector.
func (n NodeId) Less(o NodeId) bool {
	if n.Hi != o.Hi {
		return n.Hi < o.Hi
	}
	return n.Lo < o.Lo
}

// big returns the value as a math/big.Int for carry-correct add/sub; no
// pack library models fixed-width uint128 arithmetic, so this is the one
// deliberate use of the standard library in component A (see DESIGN.md).
func (n NodeId) big() *big.Int {
	v := new(big.Int).Lsh(new(big.Int).SetUint64(n.Hi), 64)
	v.Or(v, new(big.Int).SetUint64(n.Lo))
	return v
}

func fromBig(v *big.Int) NodeId {
	mod := new(big.Int).Lsh(big.NewInt(1), 128)
	v = new(big.Int).Mod(v, mod)
	buf := make([]byte, 16)
	v.FillBytes(buf)
	return NodeId{
		Hi: binary.BigEndian.Uint64(buf[:8]),
		Lo: binary.BigEndian.Uint64(buf[8:]),
	}
}

// Add returns n + delta (mod 2^128).
func (n NodeId) Add(delta uint64) NodeId {
	return fromBig(new(big.Int).Add(n.big(), new(big.Int).SetUint64(delta)))
}

// Sub returns n - delta (mod 2^128).
func (n NodeId) Sub(delta uint64) NodeId {
	return fromBig(new(big.Int).Sub(n.big(), new(big.Int).SetUint64(delta)))
}

// AddPow2 returns n + 2^exp (mod 2^128), for exp in [0,127]. Used by
// UpdateManager to compute the exponentially-spaced target list
// (self, self+2^127, self+2^126, ...) without overflowing a uint64 delta.
func (n NodeId) AddPow2(exp int) NodeId {
	return fromBig(new(big.Int).Add(n.big(), new(big.Int).Lsh(big.NewInt(1), uint(exp))))
}

// SubPow2 returns n - 2^exp (mod 2^128).
func (n NodeId) SubPow2(exp int) NodeId {
	return fromBig(new(big.Int).Sub(n.big(), new(big.Int).Lsh(big.NewInt(1), uint(exp))))
}

// SuccDist walks forward from a to b and returns the distance, i.e. the
// number of steps to reach b from a going clockwise.
func SuccDist(a, b NodeId) *big.Int {
	d := new(big.Int).Sub(b.big(), a.big())
	mod := new(big.Int).Lsh(big.NewInt(1), 128)
	return d.Mod(d, mod)
}

// PredDist walks backward from a to b.
func PredDist(a, b NodeId) *big.Int {
	return SuccDist(b, a)
}

// SuccMidpoint returns the ring point halfway between a and b walking
// forward from a (rounding toward a).
func SuccMidpoint(a, b NodeId) NodeId {
	d := SuccDist(a, b)
	half := new(big.Int).Rsh(d, 1)
	return fromBig(new(big.Int).Add(a.big(), half))
}

// PredMidpoint returns the ring point halfway between a and b walking
// backward from a (rounding toward a).
func PredMidpoint(a, b NodeId) NodeId {
	d := PredDist(a, b)
	half := new(big.Int).Rsh(d, 1)
	return fromBig(new(big.Int).Sub(a.big(), half))
}

// MinDist is the shorter of the two directed distances between a and b,
// used by RoutingTable.partition_ranges and Routing's next-hop selection.
func MinDist(a, b NodeId) *big.Int {
	s := SuccDist(a, b)
	p := PredDist(a, b)
	if s.Cmp(p) <= 0 {
		return s
	}
	return p
}

// NodeInstance pairs a ring identity with a monotonically increasing
// incarnation counter generated at process start (spec §3). The higher
// instance_id supersedes for equal Id across a restart.
type NodeInstance struct {
	Id         NodeId
	InstanceId uint64
}

func (ni NodeInstance) Supersedes(other NodeInstance) bool {
	return ni.Id.Equal(other.Id) && ni.InstanceId > other.InstanceId
}

func (ni NodeInstance) String() string {
	return fmt.Sprintf("%s#%d", ni.Id, ni.InstanceId)
}
