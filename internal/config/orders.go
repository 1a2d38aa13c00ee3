package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradecast/internal/domain"
)

// orderSpec is the YAML shape of one order in an order file. Price is a
// string so "187.50" survives without float rounding; empty means market.
type orderSpec struct {
	Action   string   `yaml:"action"`
	Quantity int      `yaml:"quantity"`
	Ticker   string   `yaml:"ticker"`
	Price    string   `yaml:"price"`
	Targets  []string `yaml:"targets"`
}

type orderFile struct {
	Orders []orderSpec `yaml:"orders"`
}

// LoadOrders reads a YAML order file and returns validated domain orders.
func LoadOrders(path string) ([]domain.Order, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading order file %s: %w", path, err)
	}

	var file orderFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing order file %s: %w", path, err)
	}
	if len(file.Orders) == 0 {
		return nil, fmt.Errorf("order file %s contains no orders", path)
	}

	orders := make([]domain.Order, 0, len(file.Orders))
	for i, spec := range file.Orders {
		order := domain.Order{
			Action:   domain.Action(strings.ToLower(spec.Action)),
			Quantity: spec.Quantity,
			Ticker:   strings.ToUpper(strings.TrimSpace(spec.Ticker)),
			Targets:  spec.Targets,
		}
		if spec.Price != "" {
			price, err := decimal.NewFromString(spec.Price)
			if err != nil {
				return nil, fmt.Errorf("order %d: invalid price %q: %w", i+1, spec.Price, err)
			}
			order.Price = &price
		}
		if err := order.Validate(); err != nil {
			return nil, fmt.Errorf("order %d: %w", i+1, err)
		}
		orders = append(orders, order)
	}

	return orders, nil
}
