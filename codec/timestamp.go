package codec

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultMaxSkew bounds how far in the future a server timestamp may be.
const DefaultMaxSkew = 5 * time.Minute

var (
	localKeys     = []string{"createdAtLocal", "created_at_local", "timestampLocal", "timestamp", "createdAt", "created_at"}
	utcKeys       = []string{"createdAtUtc", "created_at_utc", "createdAt", "created_at", "timestamp"}
	timezoneKeys  = []string{"timezone", "timeZone", "tz"}
	deliveredKeys = []string{"deliveredAtLocal", "delivered_at_local", "deliveredAt", "delivered_at"}
	seenKeys      = []string{"seenAtLocal", "seen_at_local", "seenAt", "seen_at", "readAt", "read_at"}

	sqlDateTime = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(\.\d+)?$`)
	digits      = regexp.MustCompile(`^\d+$`)
)

// Timestamps is the canonical time triple of a record.
type Timestamps struct {
	// Local is used for ordering and display.
	Local    time.Time
	UTC      time.Time
	Timezone string
}

// TimestampResolver normalizes heterogeneous timestamp fields of server records.
type TimestampResolver struct {
	Now     func() time.Time
	MaxSkew time.Duration
}

func NewTimestampResolver() *TimestampResolver {
	return &TimestampResolver{Now: time.Now, MaxSkew: DefaultMaxSkew}
}

// Resolve always returns usable timestamps: with no usable field they fall back
// to now, and values more than MaxSkew in the future are clamped to now.
func (r *TimestampResolver) Resolve(raw []byte, fallbackTZ string) Timestamps {
	now := r.Now()

	local, hasLocal := firstTime(raw, localKeys)
	utc, hasUTC := firstTime(raw, utcKeys)
	switch {
	case !hasLocal && hasUTC:
		local = utc
	case !hasLocal:
		local = now
	}
	if !hasUTC {
		utc = local
	}

	tz := firstString(raw, timezoneKeys)
	if tz == "" {
		tz = fallbackTZ
	}
	if tz == "" {
		tz = "UTC"
	}

	return Timestamps{
		Local:    r.clamp(local, now),
		UTC:      r.clamp(utc, now).UTC(),
		Timezone: tz,
	}
}

// ResolveCreated is Resolve for payloads where the creation time is optional.
// It reports false, instead of falling back to now, when no time key is present.
func (r *TimestampResolver) ResolveCreated(raw []byte, fallbackTZ string) (Timestamps, bool) {
	_, hasLocal := firstTime(raw, localKeys)
	_, hasUTC := firstTime(raw, utcKeys)
	if !hasLocal && !hasUTC {
		return Timestamps{}, false
	}
	return r.Resolve(raw, fallbackTZ), true
}

// ResolveDelivered returns the delivery time, if the record has one.
func (r *TimestampResolver) ResolveDelivered(raw []byte) (time.Time, bool) {
	return firstTime(raw, deliveredKeys)
}

// ResolveSeen returns the seen time, if the record has one.
func (r *TimestampResolver) ResolveSeen(raw []byte) (time.Time, bool) {
	return firstTime(raw, seenKeys)
}

func (r *TimestampResolver) clamp(t, now time.Time) time.Time {
	skew := r.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}
	if t.After(now.Add(skew)) {
		return now
	}
	return t
}

func firstTime(raw []byte, keys []string) (time.Time, bool) {
	for _, key := range keys {
		res := gjson.GetBytes(raw, key)
		switch res.Type {
		case gjson.String:
			if t, ok := ParseTime(res.Str); ok {
				return t, true
			}
		case gjson.Number:
			if t, ok := fromEpoch(res.Int()); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func firstString(raw []byte, keys []string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(gjson.GetBytes(raw, key).String()); v != "" {
			return v
		}
	}
	return ""
}

// ParseTime parses one server timestamp. "YYYY-MM-DD HH:MM:SS" and ISO strings
// without a zone are taken as UTC; digit-only strings are epoch seconds or millis.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if digits.MatchString(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(n)
	}

	if sqlDateTime.MatchString(s) {
		s = strings.Replace(s, " ", "T", 1) + "Z"
	} else if i := strings.IndexByte(s, 'T'); i > 0 && !hasZone(s[i:]) {
		s += "Z"
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func hasZone(clock string) bool {
	return strings.HasSuffix(clock, "Z") || strings.ContainsAny(clock, "+-")
}

func fromEpoch(n int64) (time.Time, bool) {
	switch {
	case n <= 0:
		return time.Time{}, false
	case n > 1e12:
		return time.UnixMilli(n).UTC(), true
	default:
		return time.Unix(n, 0).UTC(), true
	}
}
