// internal/resolution/resolver_test.go
package resolution_test

import (
	"testing"

	"github.com/lromero74/romero-tech-solutions-sub002/internal/granularity"
	"github.com/lromero74/romero-tech-solutions-sub002/internal/resolution"
)

func TestResolve_Precedence(t *testing.T) {
	unset := resolution.Unset
	cases := []struct {
		name                string
		alert, device, user granularity.Granularity
		want                granularity.Granularity
	}{
		{"all unset falls back to raw", unset, unset, unset, granularity.Raw},
		{"user default only", unset, unset, granularity.Hour1, granularity.Hour1},
		{"device override beats user default", unset, granularity.Min30, granularity.Hour1, granularity.Min30},
		{"alert override beats everything", granularity.Min15, granularity.Min30, granularity.Hour1, granularity.Min15},
		{"alert override alone", granularity.Day1, unset, unset, granularity.Day1},
		{"device raw override wins over user default", unset, granularity.Raw, granularity.Hour1, granularity.Raw},
		{"alert raw override wins over everything", granularity.Raw, granularity.Hour4, granularity.Day1, granularity.Raw},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolution.Resolve(tc.alert, tc.device, tc.user)
			if got != tc.want {
				t.Errorf("Resolve(%q, %q, %q) = %q, want %q", tc.alert, tc.device, tc.user, got, tc.want)
			}
		})
	}
}

// Exhaustive: for every combination of set/unset inputs over the whole
// enumeration the highest-precedence set value must win.
func TestResolve_ExhaustiveGrid(t *testing.T) {
	values := append([]granularity.Granularity{granularity.Raw}, granularity.Aggregated()...)
	options := append([]granularity.Granularity{resolution.Unset}, values...)

	for _, alert := range options {
		for _, device := range options {
			for _, user := range options {
				want := granularity.Raw
				switch {
				case alert != resolution.Unset:
					want = alert
				case device != resolution.Unset:
					want = device
				case user != resolution.Unset:
					want = user
				}
				if got := resolution.Resolve(alert, device, user); got != want {
					t.Fatalf("Resolve(%q, %q, %q) = %q, want %q", alert, device, user, got, want)
				}
			}
		}
	}
}
