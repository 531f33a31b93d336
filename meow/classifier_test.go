package meow

import "testing"

func TestClassifierCount(t *testing.T) {
	c := NewClassifier("meow")
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"no match", "hello chat", 0},
		{"single", "meow", 1},
		{"case insensitive", "MEOW Meow mEoW", 3},
		{"longer word excluded", "meowing", 0},
		{"mixed", "Meow meow MEOWING meow", 3},
		{"embedded in word", "homeowner", 0},
		{"punctuation boundary", "meow! meow? meow.", 3},
		{"comma separated", "meow,meow", 2},
		{"hyphen separated", "meow-meow", 2},
		{"prefix word excluded", "catmeow", 0},
		{"emotes around", "🐱 meow 🐱", 1},
		{"malformed utf8", "\xff\xfemeow\xff", 1},
		{"whitespace only", "   \t\n", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Count(tc.in); got != tc.want {
				t.Errorf("Count(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestClassifierCustomToken(t *testing.T) {
	c := NewClassifier("Woof")
	if c.Token() != "woof" {
		t.Errorf("token = %q, want woof", c.Token())
	}
	if got := c.Count("woof WOOF woofer meow"); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}

func TestClassifierDefaultsToken(t *testing.T) {
	c := NewClassifier("  ")
	if c.Token() != "meow" {
		t.Errorf("token = %q, want meow", c.Token())
	}
}

func TestClassifierEscapesToken(t *testing.T) {
	// A token with regex metacharacters must be treated literally.
	c := NewClassifier("me.w")
	if got := c.Count("meow mew me.w"); got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}
