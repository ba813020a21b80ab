package service

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/billableusage/internal/config"
	productdomain "github.com/smallbiznis/billableusage/internal/product/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CatalogSource supplies the current product catalog.
type CatalogSource interface {
	Get() productdomain.Catalog
}

// CatalogHolder keeps the last valid catalog and reloads it when the file
// changes.
type CatalogHolder struct {
	current atomic.Value // holds productdomain.Catalog
}

// StaticCatalog is a fixed catalog, used when no file is mounted and in tests.
type StaticCatalog productdomain.Catalog

func (s StaticCatalog) Get() productdomain.Catalog { return productdomain.Catalog(s) }

func NewCatalogHolder(cfg config.Config, log *zap.Logger) (*CatalogHolder, error) {
	log = log.Named("product.catalog")

	v := viper.New()
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.ProductsFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("products")
		v.AddConfigPath("/var/lib/billableusage/config")
		v.AddConfigPath("/etc/billableusage")
		v.AddConfigPath(".")
	}

	holder := &CatalogHolder{}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Warn("product catalog not found, no product is billable")
		holder.current.Store(productdomain.Catalog{})
		return holder, nil
	}

	catalog, err := decodeCatalog(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeCatalog(v)
		if err != nil {
			log.Error("product catalog reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("product catalog reloaded", zap.String("file", e.Name), zap.Int("products", len(updated.Products)))
	})

	return holder, nil
}

func (h *CatalogHolder) Get() productdomain.Catalog {
	return h.current.Load().(productdomain.Catalog)
}

func decodeCatalog(v *viper.Viper) (productdomain.Catalog, error) {
	var catalog productdomain.Catalog
	if err := v.Unmarshal(&catalog); err != nil {
		return productdomain.Catalog{}, err
	}
	if err := validateCatalog(catalog); err != nil {
		return productdomain.Catalog{}, err
	}
	return catalog, nil
}

func validateCatalog(catalog productdomain.Catalog) error {
	seen := make(map[string]struct{}, len(catalog.Products))
	for _, p := range catalog.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("%w: product without id", productdomain.ErrInvalidCatalog)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate product %s", productdomain.ErrInvalidCatalog, id)
		}
		seen[id] = struct{}{}
		for _, m := range p.Metrics {
			if strings.TrimSpace(m.ID) == "" {
				return fmt.Errorf("%w: product %s has a metric without id", productdomain.ErrInvalidCatalog, id)
			}
			if m.BillingFactor < 0 {
				return fmt.Errorf("%w: negative billing factor for %s/%s", productdomain.ErrInvalidCatalog, id, m.ID)
			}
		}
	}
	return nil
}
