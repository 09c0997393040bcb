// Package framing implements the self-delimiting block stream used to ship
// shuffle records.
//
// A block is a sequence of framed records followed by exactly one sentinel pair:
//
//	{[varint keyLen][varint valLen][keyLen bytes][valLen bytes]}* [varint EOF][varint EOF]
//
// EOF is -1, a magnitude that can never be a valid length. The varint scheme is
// chosen at construction time through a Codec; every scheme can report the
// encoded size of a value without materializing it, which keeps the running
// byte counter of a Writer exact.
package framing
