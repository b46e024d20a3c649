package models

import (
	"testing"
	"time"
)

func TestCriteriaSatisfiedBy(t *testing.T) {
	tests := []struct {
		name  string
		c     Criteria
		stats UserStats
		want  bool
	}{
		{"zero criteria never matches", Criteria{}, UserStats{Deliveries: 100}, false},
		{"first delivery", Criteria{Deliveries: 1}, UserStats{Deliveries: 1}, true},
		{"below threshold", Criteria{Deliveries: 100}, UserStats{Deliveries: 99}, false},
		{"fast deliveries", Criteria{FastDeliveries: 10}, UserStats{Deliveries: 12, FastDeliveries: 10}, true},
		{"night deliveries short", Criteria{NightDeliveries: 10}, UserStats{Deliveries: 50, NightDeliveries: 9}, false},
		{"rank one", Criteria{LeaderboardRank: 1}, UserStats{LeaderboardRank: 1}, true},
		{"rank two", Criteria{LeaderboardRank: 1}, UserStats{LeaderboardRank: 2}, false},
		{"unranked", Criteria{LeaderboardRank: 1}, UserStats{LeaderboardRank: 0}, false},
		{"five star", Criteria{AvgRating: 5, MinDeliveries: 20}, UserStats{Deliveries: 20, AvgRating: 5, RatingCount: 20}, true},
		{"five star too few deliveries", Criteria{AvgRating: 5, MinDeliveries: 20}, UserStats{Deliveries: 19, AvgRating: 5, RatingCount: 19}, false},
		{"five star average slipped", Criteria{AvgRating: 5, MinDeliveries: 20}, UserStats{Deliveries: 25, AvgRating: 4.96, RatingCount: 25}, false},
		{"no ratings", Criteria{AvgRating: 4}, UserStats{Deliveries: 30}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.SatisfiedBy(tt.stats); got != tt.want {
				t.Fatalf("SatisfiedBy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusOpen, StatusAccepted, StatusInProgress} {
		if s.Terminal() {
			t.Fatalf("%s reported terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s not reported terminal", s)
		}
	}
	if Status("archived").Valid() {
		t.Fatal("unknown status reported valid")
	}
}

func TestLedgerEntryDisplay(t *testing.T) {
	tests := []struct {
		points int64
		want   string
	}{
		{10, "+10"},
		{0, "+0"},
		{-5, "-5"},
	}
	for _, tt := range tests {
		if got := (LedgerEntry{Points: tt.points}).Display(); got != tt.want {
			t.Fatalf("Display(%d) = %q, want %q", tt.points, got, tt.want)
		}
	}
}

func TestRequestUpdateApply(t *testing.T) {
	accepted := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := &Request{ID: "r1", Status: StatusOpen, AcceptedAt: &accepted}

	helper := "h1"
	completed := accepted.Add(time.Hour)
	RequestUpdate{Status: StatusCompleted, HelperID: &helper, CompletedAt: &completed}.Apply(r)

	if r.Status != StatusCompleted || r.HelperID != "h1" {
		t.Fatalf("unexpected request after apply: %+v", r)
	}
	if r.AcceptedAt == nil || !r.AcceptedAt.Equal(accepted) {
		t.Fatal("nil update field overwrote accepted_at")
	}
	if r.CompletedAt == nil || !r.CompletedAt.Equal(completed) {
		t.Fatal("completed_at not written")
	}

	completed = completed.Add(time.Hour)
	if r.CompletedAt.Equal(completed) {
		t.Fatal("apply kept a reference to the caller's time")
	}
}

func TestRequestFilterMatch(t *testing.T) {
	r := &Request{RequesterID: "u1", HelperID: "u2", Type: TypeParcelPickup, Status: StatusAccepted}

	tests := []struct {
		name string
		f    RequestFilter
		want bool
	}{
		{"empty", RequestFilter{}, true},
		{"status", RequestFilter{Status: StatusAccepted}, true},
		{"other status", RequestFilter{Status: StatusOpen}, false},
		{"type and helper", RequestFilter{Type: TypeParcelPickup, HelperID: "u2"}, true},
		{"other requester", RequestFilter{RequesterID: "u3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Match(r); got != tt.want {
				t.Fatalf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
