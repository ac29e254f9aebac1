// Package shippingcost prices a shipment from the destination country and
// the number of items in the parcel.
package shippingcost

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"fulfillment-svc/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed rates.yaml
var defaultRates []byte

type Quote struct {
	Cost     decimal.Decimal `json:"cost"`
	Currency string          `json:"currency"`
	Region   string          `json:"region"`
}

type rateFile struct {
	Currency string       `yaml:"currency"`
	Regions  []regionSpec `yaml:"regions"`
	Fallback regionSpec   `yaml:"fallback"`
}

type regionSpec struct {
	Name              string   `yaml:"name"`
	Countries         []string `yaml:"countries"`
	Base              string   `yaml:"base"`
	PerAdditionalItem string   `yaml:"per_additional_item"`
}

type rate struct {
	region        string
	base          decimal.Decimal
	perAdditional decimal.Decimal
}

// Calculator is immutable after construction and safe for concurrent use.
type Calculator struct {
	currency  string
	byCountry map[string]rate
	fallback  rate
}

func Default() *Calculator {
	c, err := Parse(defaultRates)
	if err != nil {
		panic(fmt.Sprintf("embedded shipping rates are invalid: %v", err))
	}
	return c
}

// Load reads a rate table from path, or returns the embedded table when path is empty.
func Load(path string) (*Calculator, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shipping rates: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Calculator, error) {
	var file rateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse shipping rates: %w", err)
	}
	if file.Currency == "" {
		return nil, fmt.Errorf("shipping rates: currency is required")
	}

	fallback, err := file.Fallback.toRate()
	if err != nil {
		return nil, err
	}

	c := &Calculator{
		currency:  strings.ToUpper(file.Currency),
		byCountry: make(map[string]rate),
		fallback:  fallback,
	}
	for _, spec := range file.Regions {
		r, err := spec.toRate()
		if err != nil {
			return nil, err
		}
		for _, country := range spec.Countries {
			c.byCountry[strings.ToUpper(country)] = r
		}
	}
	return c, nil
}

func (s regionSpec) toRate() (rate, error) {
	base, err := decimal.NewFromString(s.Base)
	if err != nil {
		return rate{}, fmt.Errorf("shipping rates: region %q base: %w", s.Name, err)
	}
	perAdditional, err := decimal.NewFromString(s.PerAdditionalItem)
	if err != nil {
		return rate{}, fmt.Errorf("shipping rates: region %q per_additional_item: %w", s.Name, err)
	}
	if base.IsNegative() || perAdditional.IsNegative() {
		return rate{}, fmt.Errorf("shipping rates: region %q has a negative rate", s.Name)
	}
	return rate{region: s.Name, base: base, perAdditional: perAdditional}, nil
}

// Cost returns the base rate of the destination region plus the
// per-additional-item rate for every item after the first. Unknown country
// codes fall back to the international rate.
func (c *Calculator) Cost(countryCode string, itemCount int) (Quote, error) {
	if itemCount <= 0 {
		return Quote{}, models.NewValidationError("item_count", "must be greater than zero")
	}

	r, ok := c.byCountry[strings.ToUpper(strings.TrimSpace(countryCode))]
	if !ok {
		r = c.fallback
	}

	cost := r.base.Add(r.perAdditional.Mul(decimal.NewFromInt(int64(itemCount - 1))))
	return Quote{
		Cost:     cost.Round(2),
		Currency: c.currency,
		Region:   r.region,
	}, nil
}
