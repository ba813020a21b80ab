package domain

import (
	"errors"

	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
)

var (
	ErrUnknownProduct    = errors.New("unknown_product")
	ErrUnknownMetric     = errors.New("unknown_metric")
	ErrNoDimension       = errors.New("no_dimension_mapping")
	ErrUnsupportedVendor = errors.New("unsupported_billing_provider")
	ErrInvalidCatalog    = errors.New("invalid_product_catalog")
)

// Catalog is the product definition set loaded from products.yml.
type Catalog struct {
	Products []Definition `mapstructure:"products" yaml:"products"`
}

type Definition struct {
	ID              string `mapstructure:"id"`
	PaygEligible    bool   `mapstructure:"paygEligible"`
	ContractEnabled bool   `mapstructure:"contractEnabled"`
	// VendorProductCodes is keyed by billing provider.
	VendorProductCodes map[string]string  `mapstructure:"vendorProductCodes"`
	Metrics            []MetricDefinition `mapstructure:"metrics"`
}

type MetricDefinition struct {
	ID             string  `mapstructure:"id"`
	BillingFactor  float64 `mapstructure:"billingFactor"`
	Gratis         bool    `mapstructure:"gratis"`
	AWSDimension   string  `mapstructure:"awsDimension"`
	AzureDimension string  `mapstructure:"azureDimension"`
	RHMDimension   string  `mapstructure:"rhmDimension"`
}

// Registry answers product-definition questions for the billing pipeline.
type Registry interface {
	IsPaygEligible(productID string) bool
	IsContractEnabled(productID string) bool
	IsMetricGratis(productID, metricID string) bool
	BillingFactor(productID, metricID string) float64
	VendorProductCode(productID string, provider usagedomain.BillingProvider) string
	DimensionFor(provider usagedomain.BillingProvider, productID, metricID string) (string, error)
}

// DimensionResolver maps a product metric to a provider's dimension name.
type DimensionResolver interface {
	DimensionFor(metric MetricDefinition) string
}

// DimensionFunc adapts a function to DimensionResolver.
type DimensionFunc func(metric MetricDefinition) string

func (f DimensionFunc) DimensionFor(metric MetricDefinition) string { return f(metric) }

func (c Catalog) Product(productID string) (Definition, bool) {
	for _, p := range c.Products {
		if p.ID == productID {
			return p, true
		}
	}
	return Definition{}, false
}

func (d Definition) Metric(metricID string) (MetricDefinition, bool) {
	for _, m := range d.Metrics {
		if m.ID == metricID {
			return m, true
		}
	}
	return MetricDefinition{}, false
}
