// Package temporal converts between the epoch millisecond timestamps used
// internally and the ISO 8601 strings used by the vendor feeds and the
// context broker.
package temporal

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLayout matches the zone-less local time strings in the vendor feeds.
const DefaultLayout string = "2006-01-02T15:04:05"

// BrokerFractionalDigits is the number of fractional second digits in the
// timestamps returned by the context broker.
const BrokerFractionalDigits int = 2

// VendorFractionalDigits is the fractional second precision the vendor feed
// timestamps are normalised to before parsing. The feeds report sub-second
// precision inconsistently, so shorter fractions are padded and longer ones
// truncated to this many digits.
const VendorFractionalDigits int = 6

// ToEpochMillis returns the epoch millisecond timestamp for the given time
// string. The fractional second part is padded or truncated to exactly
// fractionalDigits digits before parsing. Strings that carry no explicit
// offset are interpreted as UTC, or as local Helsinki time when useLocalTime
// is set.
func ToEpochMillis(timeString, layout string, fractionalDigits int, useLocalTime bool) (int64, error) {
	full := normaliseFraction(timeString, fractionalDigits)

	fractionLayout := ""
	if fractionalDigits > 0 {
		fractionLayout = "." + strings.Repeat("0", fractionalDigits)
	}

	offset := "+0000"
	if useLocalTime {
		guess, err := time.Parse(layout+fractionLayout, full)
		if err != nil {
			return 0, fmt.Errorf("failed to parse time string %q: %w", timeString, err)
		}
		offset = LocalUTCOffset(guess.UnixMilli())
	}

	t, err := time.Parse(layout+fractionLayout+"-0700", full+offset)
	if err != nil {
		return 0, fmt.Errorf("failed to parse time string %q: %w", timeString, err)
	}

	return t.UnixMilli(), nil
}

// ISOFromEpochMillis returns the UTC ISO 8601 string for an epoch
// millisecond timestamp.
func ISOFromEpochMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

// normaliseFraction pads or truncates the fractional second part of the
// given time string to exactly the wanted number of digits. Truncation also
// consumes any trailing zone designator, which matches how the broker's
// "...ss.00Z" timestamps are handled. With zero digits the fraction is
// removed entirely, separator included.
func normaliseFraction(timeString string, digits int) string {
	decimalPlace := strings.Index(timeString, ".")
	if decimalPlace < 0 {
		if digits == 0 {
			return timeString
		}
		return timeString + "." + strings.Repeat("0", digits)
	}

	if digits == 0 {
		return timeString[:decimalPlace]
	}

	decimals := len(timeString) - (decimalPlace + 1)
	if decimals <= digits {
		return timeString + strings.Repeat("0", digits-decimals)
	}

	return timeString[:len(timeString)-(decimals-digits)]
}

// The deployment's data sources report local Helsinki time without an
// explicit offset. The table below holds the known daylight saving
// transition instants (at 01:00 UTC) for the period the data covers.
// Timestamps outside the covered range fall through to standard time.
// This is an acknowledged approximation, not meant to be generalised.
var dstTransitions = []struct {
	instant time.Time
	offset  string
}{
	{time.Date(2018, time.October, 28, 1, 0, 0, 0, time.UTC), "+0300"},
	{time.Date(2019, time.March, 31, 1, 0, 0, 0, time.UTC), "+0200"},
	{time.Date(2019, time.October, 29, 1, 0, 0, 0, time.UTC), "+0300"},
}

// LocalUTCOffset returns the UTC offset string for the deployment's locale
// at the given epoch millisecond timestamp.
func LocalUTCOffset(ms int64) string {
	t := time.UnixMilli(ms).UTC()

	for _, transition := range dstTransitions {
		if !t.After(transition.instant) {
			return transition.offset
		}
	}

	return "+0200"
}
