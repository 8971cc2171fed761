// Package tres decodes Slurm trackable resource (TRES) strings as stored by slurmdbd
package tres

import (
	"strconv"
	"strings"
)

// ID is the numeric identifier of a trackable resource in slurmdbd.
type ID int64

// Well known TRES IDs. These are fixed by slurmdbd for every cluster.
const (
	CPU    ID = 1
	Mem    ID = 2
	Energy ID = 3
	Node   ID = 4
)

// String returns the slurmdbd type name of the resource.
func (i ID) String() string {
	switch i {
	case CPU:
		return "cpu"
	case Mem:
		return "mem"
	case Energy:
		return "energy"
	case Node:
		return "node"
	default:
		return "tres/" + strconv.FormatInt(int64(i), 10)
	}
}

// Value returns the value of resource id in a `id=value,id=value` encoded string.
//
// Decoding never fails. Empty input, a missing id or a value that is not an
// integer all decode to 0. When the id appears more than once the first
// occurrence wins. A pair whose id is not an integer ends the scan.
func Value(s string, id ID) int64 {
	if s == "" {
		return 0
	}

	for pair := range strings.SplitSeq(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		key, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			return 0
		}

		if ID(key) != id {
			continue
		}

		val, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}

		return val
	}

	return 0
}

// Values decodes all well formed pairs of s keyed by ID. Pairs with
// non integer ids or values are dropped and the first occurrence of an id
// is kept.
func Values(s string) map[ID]int64 {
	values := make(map[ID]int64)

	for pair := range strings.SplitSeq(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		key, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil {
			continue
		}

		val, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			continue
		}

		if _, exists := values[ID(key)]; !exists {
			values[ID(key)] = val
		}
	}

	return values
}
