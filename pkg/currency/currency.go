package currency

import (
	"fmt"
	"math/big"
	"strings"
)

// Unit is a denomination of the chain's native coin.
type Unit struct {
	Name        string
	Symbol      string
	Decimals    int
	Description string
}

// Registry maps unit names to units. Names are case-insensitive.
type Registry struct {
	units map[string]*Unit
}

var (
	DefaultETH = &Unit{
		Name:        "ETH",
		Symbol:      "ETH",
		Decimals:    18,
		Description: "Native coin",
	}

	DefaultGWEI = &Unit{
		Name:        "GWEI",
		Symbol:      "gwei",
		Decimals:    9,
		Description: "Gas price unit",
	}

	DefaultWEI = &Unit{
		Name:        "WEI",
		Symbol:      "wei",
		Decimals:    0,
		Description: "Smallest native unit",
	}
)

func NewRegistry() *Registry {
	return &Registry{
		units: make(map[string]*Unit),
	}
}

// NewDefaultRegistry returns a registry holding ETH, GWEI and WEI.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(DefaultETH)
	r.MustRegister(DefaultGWEI)
	r.MustRegister(DefaultWEI)
	return r
}

func (r *Registry) Register(unit *Unit) (*Unit, error) {
	if unit.Name == "" {
		return nil, fmt.Errorf("currency unit name cannot be empty")
	}

	normalizedName := strings.ToUpper(unit.Name)
	if _, exists := r.units[normalizedName]; exists {
		return nil, fmt.Errorf("currency unit %s already registered", normalizedName)
	}

	r.units[normalizedName] = unit
	return unit, nil
}

func (r *Registry) MustRegister(unit *Unit) *Unit {
	u, err := r.Register(unit)
	if err != nil {
		panic(err)
	}
	return u
}

func (r *Registry) Get(name string) (*Unit, error) {
	unit, exists := r.units[strings.ToUpper(name)]
	if !exists {
		return nil, fmt.Errorf("currency unit %s not found", name)
	}
	return unit, nil
}

func (r *Registry) MustGet(name string) *Unit {
	unit, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return unit
}

// FromWei converts a wei amount into the named unit. The result is a float
// and only meant for display and metrics.
func (r *Registry) FromWei(amount *big.Int, to string) (float64, error) {
	unit, err := r.Get(to)
	if err != nil {
		return 0, err
	}
	if amount == nil {
		return 0, nil
	}
	value := new(big.Float).SetInt(amount)
	if unit.Decimals > 0 {
		divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(unit.Decimals)), nil))
		value.Quo(value, divisor)
	}
	f, _ := value.Float64()
	return f, nil
}

// Format renders a wei amount in the named unit, e.g. "1.5 gwei".
func (r *Registry) Format(amount *big.Int, to string) string {
	unit, err := r.Get(to)
	if err != nil {
		return fmt.Sprintf("%s wei", amount)
	}
	value, _ := r.FromWei(amount, to)
	return fmt.Sprintf("%.*f %s", displayPrecision(unit), value, unit.Symbol)
}

func displayPrecision(u *Unit) int {
	switch {
	case u.Decimals == 0:
		return 0
	case u.Decimals <= 9:
		return 3
	default:
		return 6
	}
}

func (u *Unit) String() string {
	return u.Symbol
}
