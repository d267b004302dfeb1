package app

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DedupPolicy turns poll items into comparable cursors. Items whose cursor is
// not strictly greater than the flow's watermark are dropped.
type DedupPolicy interface {
	Cursor(item TriggerItem) (string, error)
	Compare(a, b string) int
}

// UniqueCursor is implemented by policies whose cursor alone identifies an
// item, such as a provider's sequential ID. Timestamps are not unique.
type UniqueCursor interface {
	UniqueCursor() bool
}

func lookup(item TriggerItem, path string) (gjson.Result, error) {
	raw, err := json.Marshal(item.Raw)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return res, fmt.Errorf("item has no value at %q", path)
	}
	return res, nil
}

// TimestampCursor reads an RFC3339 string or unix seconds at Path.
type TimestampCursor struct {
	Path string
}

func (p TimestampCursor) Cursor(item TriggerItem) (string, error) {
	res, err := lookup(item, p.Path)
	if err != nil {
		return "", err
	}
	var ts time.Time
	switch res.Type {
	case gjson.Number:
		sec := res.Float()
		ts = time.Unix(0, int64(sec*float64(time.Second)))
	case gjson.String:
		ts, err = time.Parse(time.RFC3339Nano, res.String())
		if err != nil {
			return "", fmt.Errorf("timestamp at %q: %w", p.Path, err)
		}
	default:
		return "", fmt.Errorf("timestamp at %q has type %s", p.Path, res.Type)
	}
	return strconv.FormatInt(ts.UnixNano(), 10), nil
}

func (p TimestampCursor) Compare(a, b string) int {
	return compareNumeric(a, b)
}

// NumericIDCursor reads a monotonically increasing numeric ID at Path.
type NumericIDCursor struct {
	Path string
}

func (p NumericIDCursor) Cursor(item TriggerItem) (string, error) {
	res, err := lookup(item, p.Path)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(res.String())
	if _, ok := new(big.Float).SetString(s); !ok {
		return "", fmt.Errorf("id at %q is not numeric: %q", p.Path, s)
	}
	return s, nil
}

func (p NumericIDCursor) Compare(a, b string) int {
	return compareNumeric(a, b)
}

func (NumericIDCursor) UniqueCursor() bool { return true }

func compareNumeric(a, b string) int {
	x, okA := new(big.Float).SetString(a)
	y, okB := new(big.Float).SetString(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	return x.Cmp(y)
}
