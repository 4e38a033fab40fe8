package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func allActive(ledger.UserID) bool { return true }

func activeSet(ids ...ledger.UserID) func(ledger.UserID) bool {
	set := make(map[ledger.UserID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(u ledger.UserID) bool { return set[u] }
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, ledger.Money(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func amounts(lines []ledger.SplitLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Amount.StringFixed(ledger.MoneyPlaces)
	}
	return out
}

// =============================================================================
// EQUAL SPLIT
// =============================================================================

func TestComputeSplit_Equal(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		selected []ledger.UserID
		want     []string
	}{
		{"even", "90", []ledger.UserID{"a", "b", "c"}, []string{"30.00", "30.00", "30.00"}},
		{"remainder up goes to first", "100", []ledger.UserID{"a", "b", "c"}, []string{"33.34", "33.33", "33.33"}},
		{"larger remainder goes to first", "200", []ledger.UserID{"a", "b", "c"}, []string{"66.68", "66.66", "66.66"}},
		{"single member", "12.34", []ledger.UserID{"a"}, []string{"12.34"}},
		{"cent among many", "0.01", []ledger.UserID{"a", "b", "c"}, []string{"0.01", "0.00", "0.00"}},
		{"order decides who absorbs", "100", []ledger.UserID{"c", "a", "b"}, []string{"33.34", "33.33", "33.33"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := ledger.ComputeSplit(ledger.SplitInput{
				Amount:   ledger.Money(tt.amount),
				Policy:   ledger.SplitEqual,
				Selected: tt.selected,
			}, allActive)
			require.NoError(t, err)

			assert.Equal(t, tt.want, amounts(lines))
			for i, l := range lines {
				assert.Equal(t, tt.selected[i], l.UserID, "lines keep selection order")
			}
			sum := decimal.Zero
			for _, l := range lines {
				sum = sum.Add(l.Amount)
			}
			assertMoney(t, tt.amount, sum, "split must sum to the amount exactly")
		})
	}
}

func TestComputeSplit_EqualNeverNegative(t *testing.T) {
	// GIVEN: amounts of a few cents shared by many members
	var selected []ledger.UserID
	for c := 'a'; c <= 'j'; c++ {
		selected = append(selected, ledger.UserID(string(c)))
	}

	for _, amount := range []string{"0.01", "0.05", "0.09", "0.15", "1.99"} {
		t.Run(amount, func(t *testing.T) {
			// WHEN
			lines, err := ledger.ComputeSplit(ledger.SplitInput{
				Amount:   ledger.Money(amount),
				Policy:   ledger.SplitEqual,
				Selected: selected,
			}, allActive)
			require.NoError(t, err)

			// THEN: no line is negative and the first absorbs less than n cents
			sum := decimal.Zero
			for _, l := range lines {
				assert.False(t, l.Amount.IsNegative(), "negative share for %s: %s", l.UserID, l.Amount)
				sum = sum.Add(l.Amount)
			}
			assertMoney(t, amount, sum)
			extra := lines[0].Amount.Sub(lines[1].Amount)
			assert.True(t, extra.LessThan(ledger.Money("0.10")), "first member absorbs %s", extra)
		})
	}

	lines, err := ledger.ComputeSplit(ledger.SplitInput{
		Amount: ledger.Money("0.05"), Policy: ledger.SplitEqual, Selected: selected,
	}, allActive)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.05", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00"}, amounts(lines))
}

// =============================================================================
// CUSTOM SPLIT
// =============================================================================

func TestComputeSplit_Custom(t *testing.T) {
	custom := func(kv ...string) map[ledger.UserID]decimal.Decimal {
		m := make(map[ledger.UserID]decimal.Decimal)
		for i := 0; i < len(kv); i += 2 {
			m[ledger.UserID(kv[i])] = ledger.Money(kv[i+1])
		}
		return m
	}

	tests := []struct {
		name     string
		amount   string
		selected []ledger.UserID
		custom   map[ledger.UserID]decimal.Decimal
		mode     ledger.SplitMode
		want     []string
		wantErr  bool
	}{
		{
			name:     "exact sum",
			amount:   "100",
			selected: []ledger.UserID{"a", "b"},
			custom:   custom("a", "70", "b", "30"),
			want:     []string{"70.00", "30.00"},
		},
		{
			name:     "within tolerance",
			amount:   "100",
			selected: []ledger.UserID{"a", "b", "c"},
			custom:   custom("a", "33.33", "b", "33.33", "c", "33.33"),
			want:     []string{"33.33", "33.33", "33.33"},
		},
		{
			name:     "outside tolerance",
			amount:   "100",
			selected: []ledger.UserID{"a", "b"},
			custom:   custom("a", "50", "b", "49.98"),
			wantErr:  true,
		},
		{
			name:     "zero rejected on create",
			amount:   "100",
			selected: []ledger.UserID{"a", "b"},
			custom:   custom("a", "100", "b", "0"),
			wantErr:  true,
		},
		{
			name:     "zero allowed on edit",
			amount:   "100",
			selected: []ledger.UserID{"a", "b"},
			custom:   custom("a", "100", "b", "0"),
			mode:     ledger.SplitForEdit,
			want:     []string{"100.00", "0.00"},
		},
		{
			name:     "negative rejected on edit",
			amount:   "100",
			selected: []ledger.UserID{"a", "b"},
			custom:   custom("a", "110", "b", "-10"),
			mode:     ledger.SplitForEdit,
			wantErr:  true,
		},
		{
			name:     "missing amount for selected member",
			amount:   "100",
			selected: []ledger.UserID{"a", "b"},
			custom:   custom("a", "100"),
			wantErr:  true,
		},
		{
			name:     "amount for unselected member",
			amount:   "100",
			selected: []ledger.UserID{"a"},
			custom:   custom("a", "50", "b", "50"),
			wantErr:  true,
		},
		{
			name:     "sub-cent amount",
			amount:   "100",
			selected: []ledger.UserID{"a", "b"},
			custom:   custom("a", "50.005", "b", "49.995"),
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := ledger.ComputeSplit(ledger.SplitInput{
				Amount:   ledger.Money(tt.amount),
				Policy:   ledger.SplitCustom,
				Selected: tt.selected,
				Custom:   tt.custom,
				Mode:     tt.mode,
			}, allActive)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ledger.ErrInvalidSplit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, amounts(lines))
		})
	}
}

func TestComputeSplit_SumMismatchReportsTotals(t *testing.T) {
	_, err := ledger.ComputeSplit(ledger.SplitInput{
		Amount:   ledger.Money("100"),
		Policy:   ledger.SplitCustom,
		Selected: []ledger.UserID{"a", "b"},
		Custom:   map[ledger.UserID]decimal.Decimal{"a": ledger.Money("60"), "b": ledger.Money("30")},
	}, allActive)

	var splitErr *ledger.SplitError
	require.ErrorAs(t, err, &splitErr)
	assertMoney(t, "90", splitErr.Sum)
	assertMoney(t, "100", splitErr.Amount)
	assert.Contains(t, err.Error(), "sum 90.00, amount 100.00")
}

// =============================================================================
// SELECTION RULES
// =============================================================================

func TestComputeSplit_SelectionRules(t *testing.T) {
	t.Run("empty selection", func(t *testing.T) {
		_, err := ledger.ComputeSplit(ledger.SplitInput{Amount: ledger.Money("10"), Policy: ledger.SplitEqual}, allActive)
		assert.ErrorIs(t, err, ledger.ErrInvalidSplit)
	})

	t.Run("inactive member selected", func(t *testing.T) {
		_, err := ledger.ComputeSplit(ledger.SplitInput{
			Amount:   ledger.Money("10"),
			Policy:   ledger.SplitEqual,
			Selected: []ledger.UserID{"a", "gone"},
		}, activeSet("a"))

		var splitErr *ledger.SplitError
		require.ErrorAs(t, err, &splitErr)
		assert.Equal(t, ledger.UserID("gone"), splitErr.UserID)
	})

	t.Run("duplicate selection", func(t *testing.T) {
		_, err := ledger.ComputeSplit(ledger.SplitInput{
			Amount:   ledger.Money("10"),
			Policy:   ledger.SplitEqual,
			Selected: []ledger.UserID{"a", "a"},
		}, allActive)
		assert.ErrorIs(t, err, ledger.ErrInvalidSplit)
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := ledger.ComputeSplit(ledger.SplitInput{
			Amount:   ledger.Money("10"),
			Policy:   "shares",
			Selected: []ledger.UserID{"a"},
		}, allActive)
		assert.ErrorIs(t, err, ledger.ErrInvalidSplit)
	})
}
