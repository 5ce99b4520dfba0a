package ego

import (
	"testing"
	"time"
)

func TestContradictionSignal(t *testing.T) {
	cases := []struct {
		name   string
		a, b   string
		reason string
		found  bool
	}{
		{"one-sided negation", "The sky is blue.", "The sky is not blue.", "one-sided negation", true},
		{"both negated", "It is not cold.", "It is not warm.", "", false},
		{"antonym pair", "Birds can always fly.", "Birds can never fly.", "antonyms always/never", true},
		{"agreement", "Water boils at one hundred degrees.", "Water boils when heated enough.", "", false},
	}
	for _, c := range cases {
		reason, found := contradictionSignal(c.a, c.b)
		if found != c.found || reason != c.reason {
			t.Fatalf("%s: contradictionSignal = (%q, %v), want (%q, %v)", c.name, reason, found, c.reason, c.found)
		}
	}
}

func TestContainsNegation(t *testing.T) {
	if !containsNegation("This is not true") {
		t.Fatal("expected negation")
	}
	if containsNegation("This is a notable fact") {
		t.Fatal("substring of a larger word must not count as negation")
	}
}

func TestIsDue(t *testing.T) {
	now := time.Now()
	dayAgo := now.Add(-25 * time.Hour)
	hourAgo := now.Add(-30 * time.Minute)

	if !isDue("@daily", nil) {
		t.Fatal("@daily with no prior run should be due")
	}
	if !isDue("@daily", &dayAgo) {
		t.Fatal("@daily 25h after last run should be due")
	}
	if isDue("@daily", &hourAgo) {
		t.Fatal("@daily 30m after last run should not be due")
	}
	if isDue("@hourly", &hourAgo) {
		t.Fatal("@hourly 30m after last run should not be due")
	}
	if !isDue("0 0 * * *", &dayAgo) {
		t.Fatal("midnight cron with a 25h-old run should be due")
	}
	// an unparseable spec degrades to the daily fallback
	if isDue("garbage", &hourAgo) {
		t.Fatal("bad spec should fall back to daily cadence")
	}
}
