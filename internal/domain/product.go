package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProductID identifies a product. The remote API may send it as a JSON
// string or number; both are kept in their textual form.
type ProductID string

func (id ProductID) String() string { return string(id) }

// Product is a catalog or cart entry. Units is only meaningful in the cart.
// Fields the storefront does not interpret are kept in Attributes and sent
// back unchanged on purchase.
type Product struct {
	ID    ProductID `json:"id" validate:"required"`
	Name  string    `json:"name"`
	Price float64   `json:"price"`
	Units int       `json:"units,omitempty"`

	Attributes map[string]json.RawMessage `json:"-"`

	// rawID is the id exactly as received, so numeric ids stay numeric.
	rawID json.RawMessage
}

var knownFields = [...]string{"id", "name", "price", "units"}

// UnmarshalJSON decodes a product and keeps unknown fields in Attributes.
func (p *Product) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out Product
	if raw, ok := fields["id"]; ok {
		id, err := parseID(raw)
		if err != nil {
			return err
		}
		out.ID = id
		out.rawID = append(json.RawMessage(nil), bytes.TrimSpace(raw)...)
	}
	if raw, ok := fields["name"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.Name); err != nil {
			return fmt.Errorf("product name: %w", err)
		}
	}
	if raw, ok := fields["price"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.Price); err != nil {
			return fmt.Errorf("product price: %w", err)
		}
	}
	if raw, ok := fields["units"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.Units); err != nil {
			return fmt.Errorf("product units: %w", err)
		}
	}

	for _, k := range knownFields {
		delete(fields, k)
	}
	if len(fields) > 0 {
		out.Attributes = fields
	}

	*p = out
	return nil
}

// MarshalJSON encodes the product including its preserved attributes.
func (p Product) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(p.Attributes)+4)
	for k, v := range p.Attributes {
		fields[k] = v
	}

	if len(p.rawID) > 0 && ProductID(rawText(p.rawID)) == p.ID {
		fields["id"] = p.rawID
	} else {
		fields["id"] = string(p.ID)
	}
	fields["name"] = p.Name
	fields["price"] = p.Price
	if p.Units != 0 {
		fields["units"] = p.Units
	}

	return json.Marshal(fields)
}

// Clone returns a deep copy that shares no memory with p.
func (p Product) Clone() Product {
	out := p
	if p.rawID != nil {
		out.rawID = append(json.RawMessage(nil), p.rawID...)
	}
	if p.Attributes != nil {
		out.Attributes = make(map[string]json.RawMessage, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func parseID(raw json.RawMessage) (ProductID, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || isNull(raw):
		return "", nil
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("product id: %w", err)
		}
		return ProductID(s), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("product id must be a string or number: %w", err)
		}
		return ProductID(n.String()), nil
	}
}

// rawText returns the textual id held in a raw JSON id.
func rawText(raw json.RawMessage) string {
	id, err := parseID(raw)
	if err != nil {
		return ""
	}
	return string(id)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
