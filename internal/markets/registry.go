// Package markets resolves on-chain contract addresses to human-readable
// market names and parses the indexer's composite entity IDs.
package markets

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrUnknownAddress = errors.New("markets: address is not a registered option market")
	ErrInvalidID      = errors.New("markets: invalid entity id format")
)

// entityIDRegex matches the subgraph's composite IDs:
// {marketAddr}-{ordinal} with an optional trailing suffix, which is a
// call/put leg for greeks snapshots and a disambiguator elsewhere.
// Example: 0x1f6d98638eee9f689684767c3021230dd68df419-156-call
var entityIDRegex = regexp.MustCompile(`^(0x[0-9a-fA-F]{40})-(\d+)(?:-([0-9A-Za-z]+))?$`)

// EntityID is a parsed composite identifier. Num is the strike or
// position ordinal, depending on which entity the ID names.
type EntityID struct {
	MarketAddr string // lower-cased contract address
	Num        int64
	Leg        string // trailing suffix: "call"/"put" for snapshots, "" when absent
}

// ParseEntityID parses and validates a composite subgraph ID.
func ParseEntityID(id string) (EntityID, error) {
	matches := entityIDRegex.FindStringSubmatch(id)
	if matches == nil {
		return EntityID{}, fmt.Errorf("%w: %q (expected {address}-{ordinal}[-{suffix}])", ErrInvalidID, id)
	}

	num, err := strconv.ParseInt(matches[2], 10, 64)
	if err != nil {
		return EntityID{}, fmt.Errorf("%w: ordinal %q", ErrInvalidID, matches[2])
	}

	return EntityID{
		MarketAddr: strings.ToLower(matches[1]),
		Num:        num,
		Leg:        matches[3],
	}, nil
}

// Registry maps option-market contract addresses to market names.
// Addresses are normalized to lower case once at construction.
type Registry struct {
	byAddr map[string]string
}

// NewRegistry builds a registry from an address → market-name mapping in
// any casing.
func NewRegistry(addrToName map[string]string) *Registry {
	byAddr := make(map[string]string, len(addrToName))
	for addr, name := range addrToName {
		byAddr[strings.ToLower(addr)] = name
	}
	return &Registry{byAddr: byAddr}
}

// Resolve returns the market name for a contract address.
func (r *Registry) Resolve(addr string) (string, error) {
	name, ok := r.byAddr[strings.ToLower(addr)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}
	return name, nil
}

// Names returns all registered market names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byAddr))
	for _, name := range r.byAddr {
		names = append(names, name)
	}
	return names
}
