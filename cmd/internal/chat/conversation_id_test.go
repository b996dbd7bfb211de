package chat

import "testing"

func TestConversationID_Commutative(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want string
	}{
		{a: "alice", b: "bob", want: "alice_bob"},
		{a: "bob", b: "alice", want: "alice_bob"},
		{a: "x", b: "x", want: "x_x"},
		{a: "10", b: "9", want: "10_9"}, // lexicographic, not numeric
	}

	for _, tc := range cases {
		if got := ConversationID(tc.a, tc.b); got != tc.want {
			t.Fatalf("ConversationID(%q,%q)=%q want=%q", tc.a, tc.b, got, tc.want)
		}
		if got, swapped := ConversationID(tc.a, tc.b), ConversationID(tc.b, tc.a); got != swapped {
			t.Fatalf("not commutative: %q vs %q", got, swapped)
		}
	}
}
