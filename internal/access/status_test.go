package access

import (
	"testing"
	"time"
)

func TestResolveStatus(t *testing.T) {
	from := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	to := from.Add(2 * time.Hour)
	inv := Invitation{ValidFrom: from, ValidTo: to}

	cases := []struct {
		name    string
		revoked bool
		now     time.Time
		want    Status
	}{
		{"before window", false, from.Add(-time.Minute), StatusPending},
		{"at start", false, from, StatusActive},
		{"inside window", false, from.Add(time.Hour), StatusActive},
		{"at end", false, to, StatusExpired},
		{"after window", false, to.Add(time.Minute), StatusExpired},
		{"revoked wins over active", true, from.Add(time.Hour), StatusRevoked},
		{"revoked wins over expired", true, to.Add(time.Minute), StatusRevoked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := inv
			if tc.revoked {
				in.Status = StatusRevoked
			}
			if got := ResolveStatus(in, tc.now); got != tc.want {
				t.Fatalf("ResolveStatus = %s, want %s", got, tc.want)
			}
		})
	}
}
