package agent

import "testing"

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", DefaultConversationTitle},
		{"   \n ", DefaultConversationTitle},
		{"help me", "Help me"},
		{"one two three four five six seven eight", "One two three four five six"},
		{"écrire un test", "Écrire un test"},
	}
	for _, tc := range cases {
		if got := DeriveTitle(tc.in); got != tc.want {
			t.Errorf("DeriveTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveTitleTruncatesOnWordBoundary(t *testing.T) {
	in := "supercalifragilisticexpialidocious antidisestablishmentarianism floccinaucinihilipilification pneumonoultramicroscopicsilicovolcanoconiosis five six"
	got := DeriveTitle(in)
	if len(got) > 60 {
		t.Fatalf("title is %d chars: %q", len(got), got)
	}
}
