package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/guregu/null"
)

// Placeholder renders every absent optional field.
const Placeholder = "-"

// Fields are the parts of an operator command covered by the integrity hash.
type Fields struct {
	StationID     string
	ConnectorID   null.Int
	IDTag         null.String
	TransactionID null.Int
	Timestamp     null.String
	VendorID      null.String
	Values        map[string]string
}

// Canonicalize renders fields as
//
//	stationId|connectorId|idTag|transactionId|timestamp|vendorId|kv
//
// where kv is "k=v" pairs joined by ";" in key order. Absent fields become "-", so callers
// that omit different optional fields still produce a stable string.
func Canonicalize(f Fields) string {
	parts := []string{
		orPlaceholder(f.StationID),
		intOrPlaceholder(f.ConnectorID),
		stringOrPlaceholder(f.IDTag),
		intOrPlaceholder(f.TransactionID),
		stringOrPlaceholder(f.Timestamp),
		stringOrPlaceholder(f.VendorID),
		pairs(f.Values),
	}
	return strings.Join(parts, "|")
}

// Hash returns the lowercase hex SHA-256 of the canonical string.
func Hash(f Fields) string {
	sum := sha256.Sum256([]byte(Canonicalize(f)))
	return hex.EncodeToString(sum[:])
}

func pairs(values map[string]string) string {
	if len(values) == 0 {
		return Placeholder
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, k+"="+values[k])
	}
	return strings.Join(items, ";")
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

func stringOrPlaceholder(s null.String) string {
	if !s.Valid {
		return Placeholder
	}
	return orPlaceholder(s.String)
}

func intOrPlaceholder(i null.Int) string {
	if !i.Valid {
		return Placeholder
	}
	return strconv.FormatInt(i.Int64, 10)
}
