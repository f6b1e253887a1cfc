package results

import (
	"errors"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

// ErrNotRecord is returned when a lookup response is not a JSON object.
var ErrNotRecord = errors.New("response is not a result object")

// Record is one successful lookup response.
type Record struct {
	ID            string  `json:"id"`
	Link          string  `json:"link"`
	Value         string  `json:"value"`
	From          string  `json:"from"`
	Matched       float64 `json:"matched"`
	Info          string  `json:"info"`
	AttrCount     int     `json:"attr_count"`
	ThreatLevelID int     `json:"threat_level_id"`
	Background    string  `json:"background"`
}

// DecodeRecord decodes a lookup response. Unknown fields are ignored and
// missing or mistyped fields take their zero value; id, link and matched
// accept either strings or numbers.
func DecodeRecord(raw []byte) (Record, error) {
	if !gjson.ValidBytes(raw) {
		return Record{}, ErrNotRecord
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return Record{}, ErrNotRecord
	}
	return Record{
		ID:            text(doc.Get("id")),
		Link:          text(doc.Get("link")),
		Value:         text(doc.Get("value")),
		From:          text(doc.Get("from")),
		Matched:       number(doc.Get("matched")),
		Info:          text(doc.Get("info")),
		AttrCount:     int(number(doc.Get("attr_count"))),
		ThreatLevelID: int(number(doc.Get("threat_level_id"))),
		Background:    text(doc.Get("background")),
	}, nil
}

// UnmarshalJSON applies the same tolerant decoding as DecodeRecord.
func (r *Record) UnmarshalJSON(b []byte) error {
	rec, err := DecodeRecord(b)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

func text(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Number:
		return v.Raw
	}
	return ""
}

func number(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Number:
		return v.Num
	case gjson.String:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// SortForDisplay returns a copy of records ordered by Matched, highest first.
// Ties keep their arrival order.
func SortForDisplay(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Matched > out[j].Matched })
	return out
}
