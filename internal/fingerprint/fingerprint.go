package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Length of the encoded identifier. Long enough that collisions across
// a feed's history are not a practical concern.
const encodedLength = 12

// epochMillisCutoff disambiguates integer timestamps: anything at or
// above this magnitude is epoch milliseconds, below it epoch seconds.
const epochMillisCutoff = int64(1e12)

// NormalizeTime converts a feed-native publish time into UTC. Accepted
// shapes: integer epoch milliseconds or seconds, ISO-8601 strings
// (a trailing "Z" is equivalent to "+00:00"), and time.Time values.
func NormalizeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case int64:
		return fromEpoch(t), nil
	case int:
		return fromEpoch(int64(t)), nil
	case float64:
		// JSON numbers decode as float64
		return fromEpoch(int64(t)), nil
	case string:
		return parseISO(t)
	case nil:
		return time.Time{}, fmt.Errorf("publish time is missing")
	default:
		return time.Time{}, fmt.Errorf("unsupported publish time type %T", v)
	}
}

func fromEpoch(v int64) time.Time {
	if v >= epochMillisCutoff {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

func parseISO(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable publish time %q", s)
}

// Generate derives the stable content-addressed identifier for an
// announcement from its source, source-native id and normalized
// publish time. Identical logical inputs always yield the same output
// across process restarts, which is what makes re-ingestion idempotent.
func Generate(source, nativeID string, publishTime time.Time) string {
	raw := source + "|" + nativeID + "|" + publishTime.UTC().Format(time.RFC3339)
	digest := sha256.Sum256([]byte(raw))
	return base64.URLEncoding.EncodeToString(digest[:])[:encodedLength]
}

// FromRaw normalizes a feed-native publish time and derives the
// fingerprint in one step.
func FromRaw(source, nativeID string, publishTime any) (string, time.Time, error) {
	normalized, err := NormalizeTime(publishTime)
	if err != nil {
		return "", time.Time{}, err
	}
	return Generate(source, nativeID, normalized), normalized, nil
}
