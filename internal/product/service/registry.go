package service

import (
	"fmt"
	"strings"

	productdomain "github.com/smallbiznis/billableusage/internal/product/domain"
	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
)

// DefaultDimensionResolvers is the provider to dimension-name strategy table.
func DefaultDimensionResolvers() map[usagedomain.BillingProvider]productdomain.DimensionResolver {
	return map[usagedomain.BillingProvider]productdomain.DimensionResolver{
		usagedomain.BillingProviderAWS: productdomain.DimensionFunc(func(m productdomain.MetricDefinition) string {
			return m.AWSDimension
		}),
		usagedomain.BillingProviderAzure: productdomain.DimensionFunc(func(m productdomain.MetricDefinition) string {
			return m.AzureDimension
		}),
		usagedomain.BillingProviderRedHat: productdomain.DimensionFunc(func(m productdomain.MetricDefinition) string {
			return m.RHMDimension
		}),
	}
}

type registry struct {
	source     CatalogSource
	dimensions map[usagedomain.BillingProvider]productdomain.DimensionResolver
}

func NewRegistry(source CatalogSource) productdomain.Registry {
	return NewRegistryWithResolvers(source, DefaultDimensionResolvers())
}

func NewRegistryWithResolvers(source CatalogSource, resolvers map[usagedomain.BillingProvider]productdomain.DimensionResolver) productdomain.Registry {
	return &registry{source: source, dimensions: resolvers}
}

func (r *registry) product(productID string) (productdomain.Definition, bool) {
	if r.source == nil {
		return productdomain.Definition{}, false
	}
	return r.source.Get().Product(productID)
}

func (r *registry) metric(productID, metricID string) (productdomain.MetricDefinition, bool) {
	p, ok := r.product(productID)
	if !ok {
		return productdomain.MetricDefinition{}, false
	}
	return p.Metric(metricID)
}

func (r *registry) IsPaygEligible(productID string) bool {
	p, ok := r.product(productID)
	return ok && p.PaygEligible
}

func (r *registry) IsContractEnabled(productID string) bool {
	p, ok := r.product(productID)
	return ok && p.ContractEnabled
}

func (r *registry) IsMetricGratis(productID, metricID string) bool {
	m, ok := r.metric(productID, metricID)
	return ok && m.Gratis
}

func (r *registry) BillingFactor(productID, metricID string) float64 {
	m, ok := r.metric(productID, metricID)
	if !ok || m.BillingFactor <= 0 {
		return 1
	}
	return m.BillingFactor
}

func (r *registry) VendorProductCode(productID string, provider usagedomain.BillingProvider) string {
	p, ok := r.product(productID)
	if !ok {
		return ""
	}
	for key, code := range p.VendorProductCodes {
		if strings.EqualFold(key, string(provider)) {
			return code
		}
	}
	return ""
}

func (r *registry) DimensionFor(provider usagedomain.BillingProvider, productID, metricID string) (string, error) {
	resolver, ok := r.dimensions[provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", productdomain.ErrUnsupportedVendor, provider)
	}
	p, ok := r.product(productID)
	if !ok {
		return "", fmt.Errorf("%w: %s", productdomain.ErrUnknownProduct, productID)
	}
	m, ok := p.Metric(metricID)
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", productdomain.ErrUnknownMetric, productID, metricID)
	}
	dimension := strings.TrimSpace(resolver.DimensionFor(m))
	if dimension == "" {
		return "", fmt.Errorf("%w: %s %s/%s", productdomain.ErrNoDimension, provider, productID, metricID)
	}
	return dimension, nil
}
