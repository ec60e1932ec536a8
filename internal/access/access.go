// Package access holds the permission table and the per-call context that
// every state-changing operation receives. There is no contract-wide role
// storage: the host passes the table in with each call.
package access

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
)

// Address identifies an account on the asset ledgers (a strategy, a
// depositor, the treasury itself...). Addresses are case-insensitive.
type Address string

// ZeroAddress is never a valid recipient.
const ZeroAddress Address = ""

// NormalizeAddress lower-cases and trims an address string.
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

func (a Address) String() string {
	return string(a)
}

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Role is a named capability.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStrategy Role = "strategy"
	RoleInsurer  Role = "insurer"
)

// KnownRoles lists the roles a table accepts.
var KnownRoles = []Role{RoleAdmin, RoleStrategy, RoleInsurer}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range KnownRoles {
		if r == k {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Table maps roles to the addresses holding them.
// Not thread-safe; owned by the single-threaded engine.
type Table struct {
	grants map[Role]map[Address]struct{}
}

func NewTable() *Table {
	return &Table{grants: make(map[Role]map[Address]struct{})}
}

// Grant gives role to addr. Granting twice is a no-op.
func (t *Table) Grant(role Role, addr Address) {
	set, ok := t.grants[role]
	if !ok {
		set = make(map[Address]struct{})
		t.grants[role] = set
	}
	set[addr] = struct{}{}
}

// Revoke removes role from addr.
func (t *Table) Revoke(role Role, addr Address) {
	if set, ok := t.grants[role]; ok {
		delete(set, addr)
	}
}

// Has reports whether addr holds role.
func (t *Table) Has(role Role, addr Address) bool {
	if t == nil {
		return false
	}
	_, ok := t.grants[role][addr]
	return ok
}

// Members returns the sorted holders of role.
func (t *Table) Members(role Role) []Address {
	out := make([]Address, 0, len(t.grants[role]))
	for a := range t.grants[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Export returns a copy of the table keyed by role name, for snapshots.
func (t *Table) Export() map[string][]string {
	out := make(map[string][]string, len(t.grants))
	for role := range t.grants {
		members := t.Members(role)
		if len(members) == 0 {
			continue
		}
		list := make([]string, len(members))
		for i, m := range members {
			list[i] = string(m)
		}
		out[string(role)] = list
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := NewTable()
	for role, set := range t.grants {
		for addr := range set {
			c.Grant(role, addr)
		}
	}
	return c
}

// ImportTable rebuilds a table from Export output.
func ImportTable(m map[string][]string) (*Table, error) {
	t := NewTable()
	for name, members := range m {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		for _, a := range members {
			t.Grant(role, NormalizeAddress(a))
		}
	}
	return t, nil
}

// Call is the context of a single operation: who is calling, when, and
// against which permission table. Time is a versioned input; operations
// never read the wall clock.
type Call struct {
	Caller Address
	Now    time.Time
	Perms  *Table
}

// As returns a copy of c with a different caller. Used when one component
// calls into another under its own identity.
func (c Call) As(caller Address) Call {
	c.Caller = caller
	return c
}

// Require fails with an Authorization error unless the caller holds at
// least one of roles.
func (c Call) Require(op string, roles ...Role) error {
	for _, r := range roles {
		if c.Perms.Has(r, c.Caller) {
			return nil
		}
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return fault.Authorization(op, "caller %s lacks role %s", c.Caller, strings.Join(names, "|"))
}
