package rewards

import "strings"

// AddressSet is a case-insensitive set of addresses, normalized to lower
// case once at construction rather than on every membership test.
type AddressSet struct {
	members map[string]struct{}
}

// NewAddressSet builds a set from a list of addresses in any casing.
func NewAddressSet(addrs []string) *AddressSet {
	members := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		members[strings.ToLower(a)] = struct{}{}
	}
	return &AddressSet{members: members}
}

// Contains reports whether addr is in the set, ignoring case.
func (s *AddressSet) Contains(addr string) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[strings.ToLower(addr)]
	return ok
}

// Len returns the number of distinct addresses in the set.
func (s *AddressSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.members)
}
