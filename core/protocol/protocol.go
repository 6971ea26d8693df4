// Package protocol defines the protocol identifier type exchanged during
// multistream negotiation (spec.md §4.1).
package protocol

// ID names an application protocol, e.g. "/ipfs/ping/1.0.0".
type ID string

// Match is a predicate-based matcher, used by SetStreamHandlerMatch for
// protocol families (e.g. versioned variants) that aren't exact strings.
type Match func(ID) bool

func ConvertToStrings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func ConvertFromStrings(strs []string) []ID {
	out := make([]ID, len(strs))
	for i, s := range strs {
		out[i] = ID(s)
	}
	return out
}
