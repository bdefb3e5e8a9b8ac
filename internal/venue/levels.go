package venue

import (
	"encoding/json"
	"fmt"

	"perpagg/pkg/types"
)

// rawLevel accepts the two level shapes venues use on the wire, keyed
// objects like {"px": "180.52", "sz": "5"} and positional tuples like
// ["180.52", "5"], and coerces both into the normalized [price, size]
// string pair. Numeric JSON values keep their literal text via json.Number
// so precision is preserved end to end.
type rawLevel struct {
	Price string
	Size  string
}

func (l *rawLevel) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty level")
	}

	switch data[0] {
	case '[':
		var tuple []json.Number
		if err := json.Unmarshal(data, &tuple); err != nil {
			return fmt.Errorf("level tuple: %w", err)
		}
		if len(tuple) < 2 {
			return fmt.Errorf("level tuple has %d elements, want 2", len(tuple))
		}
		l.Price = tuple[0].String()
		l.Size = tuple[1].String()
		return nil

	case '{':
		var obj struct {
			Px     json.Number `json:"px"`
			Sz     json.Number `json:"sz"`
			Price  json.Number `json:"price"`
			Size   json.Number `json:"size"`
			Amount json.Number `json:"amount"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("level object: %w", err)
		}
		l.Price = firstNonEmpty(obj.Px.String(), obj.Price.String())
		l.Size = firstNonEmpty(obj.Sz.String(), obj.Size.String(), obj.Amount.String())
		if l.Price == "" || l.Size == "" {
			return fmt.Errorf("level object missing price or size: %s", data)
		}
		return nil

	default:
		return fmt.Errorf("unrecognized level shape: %s", data)
	}
}

// toPriceLevels converts a parsed wire side into normalized levels.
func toPriceLevels(raw []rawLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, l := range raw {
		out = append(out, types.PriceLevel{Price: l.Price, Size: l.Size})
	}
	return out
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
