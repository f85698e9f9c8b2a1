package storage

import "testing"

func TestListingValuesClause(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, ""},
		{1, "($1, $2, $3, $4)"},
		{3, "($1, $2, $3, $4), ($5, $6, $7, $8), ($9, $10, $11, $12)"},
	}
	for _, tt := range tests {
		if got := listingValuesClause(tt.n); got != tt.want {
			t.Errorf("listingValuesClause(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
