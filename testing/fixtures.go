package testing

import (
	"fmt"

	fuzz "github.com/google/gofuzz"

	"github.com/arloliu/rshuffle/types"
)

// Servers returns n server IDs of the form "server-<i>:19999".
func Servers(n int) []types.ServerID {
	out := make([]types.ServerID, n)
	for i := range n {
		out[i] = types.ServerID(fmt.Sprintf("server-%d:19999", i))
	}

	return out
}

// KV is a key/value record fixture.
type KV struct {
	Key   []byte
	Value []byte
}

// RandomRecords returns n deterministic pseudo-random records for seed.
//
// Keys and values are non-nil and at most maxLen bytes long, so that an
// empty slice still exercises the zero-length encoding.
func RandomRecords(seed int64, n, maxLen int) []KV {
	f := fuzz.NewWithSeed(seed).NilChance(0).NumElements(0, maxLen)

	out := make([]KV, n)
	for i := range out {
		f.Fuzz(&out[i].Key)
		f.Fuzz(&out[i].Value)
	}

	return out
}
