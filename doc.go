// Package rshuffle provides the core of a remote shuffle service: a binary
// framing protocol for shuffle blocks, locator-based reads across storage
// tiers, and a partition reassignment protocol that keeps writers correct
// when a shuffle server fails mid-shuffle.
//
// # Quick Start
//
// Wire an authority and a writer over an in-process cluster:
//
//	cfg := rshuffle.DefaultConfig()
//	auth, _ := rshuffle.NewMemoryAuthority(&cfg, rshuffle.StaticServers("s1:19999", "s2:19999"))
//
//	w, _ := rshuffle.NewShuffleWriter(&cfg, shuffleID, rshuffle.TaskAttempt{
//	    ExecutorID:    "exec-1",
//	    TaskAttemptID: 42,
//	}, auth, transport)
//
//	_ = w.Write(ctx, 3, []byte("key"), []byte("value"))
//	receipts, err := w.Commit(ctx)
//
//	r, _ := rshuffle.NewShuffleReader(&cfg, auth, directory)
//	records, err := r.ReadBlock(ctx, receipts[0])
//
// # Block Streams
//
// Records are framed as
//
//	{[varint keyLen][varint valueLen][key][value]}* [varint -1][varint -1]
//
// using the codec named by Config.Client.Codec (Hadoop VInt by default).
// See the framing package.
//
// # Reassignment
//
// Each partition has a versioned assignment owned by the accepting
// authority. A writer that cannot deliver a block after its local retries
// reports the failed servers; the authority accepts the report unless a
// newer task attempt already advanced the assignment, and answers with the
// new server set. Every block receipt records the assignment version it was
// written under, and readers resolve blocks against that version.
//
// The authority runs in-process (NewMemoryAuthority, NewKVAuthority) or
// behind NATS request/reply (ServeAuthority, DialAuthority). Shuffle servers
// advertise liveness with StartHeartbeat; NewServerMonitor lists them.
//
// See the examples/ directory for a complete working example.
package rshuffle
