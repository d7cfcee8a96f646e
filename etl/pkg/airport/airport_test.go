package airport

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/carbonetl/etl/pkg/table"
)

func TestCarbon_Airport_LookupCode(t *testing.T) {
	t.Parallel()

	coords, ok := LookupCode("JFK")
	require.True(t, ok)
	require.InDelta(t, 40.64, coords.Lat, 0.1)

	_, ok = LookupCode(" lhr ")
	require.True(t, ok, "lookup trims and upcases")

	_, ok = LookupCode("ZZZ")
	require.False(t, ok)
	require.False(t, KnownCode("ZZZ"))
	require.True(t, KnownCode("cdg"))
}

func TestCarbon_Airport_Distance(t *testing.T) {
	t.Parallel()

	t.Run("transatlantic great-circle", func(t *testing.T) {
		t.Parallel()

		km, ok := Distance("JFK", "LHR")
		require.True(t, ok)
		require.InDelta(t, 5554.91, km, 0.5)
	})

	t.Run("same airport is zero", func(t *testing.T) {
		t.Parallel()

		km, ok := Distance("JFK", "JFK")
		require.True(t, ok)
		require.Equal(t, 0.0, km)
	})

	t.Run("unknown code fails", func(t *testing.T) {
		t.Parallel()

		_, ok := Distance("JFK", "ZZZ")
		require.False(t, ok)
		_, ok = Distance("ZZZ", "LHR")
		require.False(t, ok)
	})

	t.Run("rounded to two decimals", func(t *testing.T) {
		t.Parallel()

		km, ok := Distance("CDG", "AMS")
		require.True(t, ok)
		require.InDelta(t, math.Round(km*100)/100, km, 1e-9)
	})
}

func TestCarbon_Airport_DetectColumns(t *testing.T) {
	t.Parallel()

	t.Run("matches by substring, case-insensitive", func(t *testing.T) {
		t.Parallel()

		origin, dest := DetectColumns([]string{"Trip ID", "Departure Airport", "Arrival Airport"})
		require.Equal(t, "Departure Airport", origin)
		require.Equal(t, "Arrival Airport", dest)
	})

	t.Run("destination never reuses the origin column", func(t *testing.T) {
		t.Parallel()

		// "from_to" matches both pattern sets; the destination scan
		// must pick a different column.
		origin, dest := DetectColumns([]string{"from_to", "to_city"})
		require.Equal(t, "from_to", origin)
		require.Equal(t, "to_city", dest)
	})

	t.Run("no match yields empty names", func(t *testing.T) {
		t.Parallel()

		origin, dest := DetectColumns([]string{"Amount", "Notes"})
		require.Empty(t, origin)
		require.Empty(t, dest)
	})
}

func TestCarbon_Airport_ScanRowForCodes(t *testing.T) {
	t.Parallel()

	columns := []string{"id", "a", "b", "c"}

	t.Run("first two known codes in column order", func(t *testing.T) {
		t.Parallel()

		origin, dest, ok := ScanRowForCodes(columns, table.Row{
			"id": int64(1), "a": "JFK", "b": "note", "c": "LHR",
		})
		require.True(t, ok)
		require.Equal(t, "JFK", origin)
		require.Equal(t, "LHR", dest)
	})

	t.Run("one code is not enough", func(t *testing.T) {
		t.Parallel()

		_, _, ok := ScanRowForCodes(columns, table.Row{"a": "JFK", "b": "xyz"})
		require.False(t, ok)
	})
}
