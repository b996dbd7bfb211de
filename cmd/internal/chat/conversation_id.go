package chat

// ConversationID returns the canonical key of the direct conversation
// between two users: the pair sorted lexicographically, joined by "_".
//
// The key is commutative — ConversationID(a, b) == ConversationID(b, a) —
// so both participants' queries converge on the same partition.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}
