package slug

import (
	"regexp"
	"testing"
)

func TestMake(t *testing.T) {
	cases := map[string]string{
		"Science Fiction":         "science-fiction",
		"  The   Lost  Archive  ": "the-lost-archive",
		"Hello, World!":           "hello-world",
		"--already--slugged--":    "already-slugged",
		"Dragons & Dungeons":      "dragons-dungeons",
		"snake_case_title":        "snake_case_title",
		"Café Noir":               "caf-noir",
		"!!!":                     "",
		"Science\u00a0Fiction":    "science-fiction",
		"Science\u3000Fiction":    "science-fiction",
		"Line\u2028Break":         "line-break",
	}
	for in, want := range cases {
		if got := Make(in); got != want {
			t.Fatalf("Make(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMakeIdempotent(t *testing.T) {
	inputs := []string{"Science Fiction", " a -- b ", "Émile's  Tale", "x_y-z", "--", "Multi\tLine\nTitle"}
	for _, in := range inputs {
		once := Make(in)
		if twice := Make(once); twice != once {
			t.Fatalf("Make not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestWithSuffix(t *testing.T) {
	re := regexp.MustCompile(`^my-title-[a-z0-9]{4}$`)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		s := WithSuffix("my-title")
		if !re.MatchString(s) {
			t.Fatalf("unexpected suffixed slug %q", s)
		}
		seen[s] = true
	}
	if len(seen) < 2 {
		t.Fatal("suffixes should vary")
	}
}
