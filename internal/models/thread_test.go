package models

import (
	"testing"
	"time"
)

func TestStatus_CanTransition(t *testing.T) {
	all := []Status{StatusActive, StatusRemoved, StatusAnalyzed}
	allowed := map[[2]Status]bool{
		{StatusActive, StatusRemoved}:   true,
		{StatusRemoved, StatusAnalyzed}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestParseStatus_RoundTrip(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusRemoved, StatusAnalyzed} {
		got, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q) error = %v", s.String(), err)
		}
		if got != s {
			t.Errorf("ParseStatus(%q) = %v, want %v", s.String(), got, s)
		}
	}

	if _, err := ParseStatus("archived"); err == nil {
		t.Error("ParseStatus should reject unknown statuses")
	}
}

func TestNewThread_AuthorSentinel(t *testing.T) {
	created := time.Unix(1_700_000_000, 0)
	th := NewThread(PostSnapshot{ID: "abc", Title: "t", CreatedAt: created, Score: 4, NumComments: 2})

	if th.Author != DeletedAuthor {
		t.Errorf("Author = %q, want %q", th.Author, DeletedAuthor)
	}
	if th.Status != StatusActive {
		t.Errorf("Status = %v, want ACTIVE", th.Status)
	}
	if th.RemovedAt != nil || th.RemovalCategory != nil || th.Tickers != nil {
		t.Error("new thread must not carry removal or analysis data")
	}
	if th.InitialScore != 4 || th.InitialComments != 2 {
		t.Errorf("initial counters = %d/%d, want 4/2", th.InitialScore, th.InitialComments)
	}
}

func TestEncodeDecodeTickers(t *testing.T) {
	raw, err := EncodeTickers(nil)
	if err != nil || raw != nil {
		t.Fatalf("EncodeTickers(nil) = %v, %v; want nil, nil", raw, err)
	}

	raw, err = EncodeTickers([]string{"XYZ", "ABC"})
	if err != nil {
		t.Fatal(err)
	}
	if *raw != `["ABC","XYZ"]` {
		t.Errorf("EncodeTickers sorted output = %s", *raw)
	}

	bad := "not json"
	if _, err := DecodeTickers(&bad); err == nil {
		t.Error("DecodeTickers should fail on malformed input")
	}

	empty := "[]"
	got, err := DecodeTickers(&empty)
	if err != nil || got != nil {
		t.Errorf("DecodeTickers([]) = %v, %v; want nil, nil", got, err)
	}
}
