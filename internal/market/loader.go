package market

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// marketDef is the on-disk market definition. Market discovery is out of
// scope; definitions are supplied by the operator or an external scanner.
type marketDef struct {
	ID           string `json:"id"`
	YesTokenID   string `json:"yes_token_id"`
	NoTokenID    string `json:"no_token_id"`
	ReferenceSym string `json:"reference_symbol"`
	Strike       string `json:"strike"`
	ResolvesAt   string `json:"resolves_at"` // RFC 3339
}

// LoadFile reads market definitions from a JSON file.
func LoadFile(path string) ([]Market, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read markets file: %w", err)
	}

	var defs []marketDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse markets file: %w", err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("markets file %s defines no markets", path)
	}

	out := make([]Market, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d.ID == "" || d.YesTokenID == "" || d.NoTokenID == "" || d.ReferenceSym == "" {
			return nil, fmt.Errorf("market %d: id, token ids, and reference_symbol are required", i)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate market id %s", d.ID)
		}
		seen[d.ID] = true

		strike, err := decimal.NewFromString(d.Strike)
		if err != nil {
			return nil, fmt.Errorf("market %s: invalid strike %q", d.ID, d.Strike)
		}
		resolvesAt, err := time.Parse(time.RFC3339, d.ResolvesAt)
		if err != nil {
			return nil, fmt.Errorf("market %s: invalid resolves_at %q", d.ID, d.ResolvesAt)
		}

		out = append(out, Market{
			ID:           d.ID,
			YesTokenID:   d.YesTokenID,
			NoTokenID:    d.NoTokenID,
			ReferenceSym: d.ReferenceSym,
			Strike:       strike,
			ResolvesAt:   resolvesAt,
		})
	}
	return out, nil
}
