// Package permissions resolves the bot's effective Discord permissions in a
// guild or channel and gates the moderation ("fun") features on them.
package permissions

import (
	"encoding/json"
	"strconv"
)

// Permission bits, as numbered by the Discord API.
const (
	Administrator   uint64 = 1 << 3
	ManageGuild     uint64 = 1 << 5
	ManageNicknames uint64 = 1 << 27
	ModerateMembers uint64 = 1 << 40
)

// Permissions is either Unrestricted (Administrator, every bit implied) or
// an explicit bitmask. The zero value is the empty set.
type Permissions struct {
	unrestricted bool
	bits         uint64
}

// Unrestricted is the result for identities holding Administrator.
func Unrestricted() Permissions {
	return Permissions{unrestricted: true}
}

// Bitmask wraps an explicit permission set.
func Bitmask(bits uint64) Permissions {
	return Permissions{bits: bits}
}

// IsUnrestricted reports the Administrator short-circuit.
func (p Permissions) IsUnrestricted() bool {
	return p.unrestricted
}

// Bits returns the explicit bitmask; unrestricted sets report every bit.
func (p Permissions) Bits() uint64 {
	if p.unrestricted {
		return ^uint64(0)
	}
	return p.bits
}

// Has reports whether every bit in perm is granted.
func (p Permissions) Has(perm uint64) bool {
	return p.unrestricted || p.bits&perm == perm
}

// String renders the bitmask in decimal, the way Discord serializes it.
func (p Permissions) String() string {
	if p.unrestricted {
		return "unrestricted"
	}
	return strconv.FormatUint(p.bits, 10)
}

// MarshalJSON writes {"unrestricted":bool,"bitmask":"<decimal>"}. The bitmask
// is a string because 64-bit values do not survive JSON numbers.
func (p Permissions) MarshalJSON() ([]byte, error) {
	out := struct {
		Unrestricted bool   `json:"unrestricted"`
		Bitmask      string `json:"bitmask,omitempty"`
	}{Unrestricted: p.unrestricted}
	if !p.unrestricted {
		out.Bitmask = strconv.FormatUint(p.bits, 10)
	}
	return json.Marshal(out)
}

// FunFeatures is the composite capability: Administrator, or both
// ModerateMembers and ManageNicknames. One of the pair is not enough.
func FunFeatures(p Permissions) bool {
	return p.Has(Administrator) || p.Has(ModerateMembers|ManageNicknames)
}

// IsGuildManager reports Administrator or ManageGuild.
func IsGuildManager(p Permissions) bool {
	return p.Has(Administrator) || p.Has(ManageGuild)
}
