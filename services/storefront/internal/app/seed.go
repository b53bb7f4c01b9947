package app

import (
	"github.com/lunebijoux/storefront/services/storefront/internal/demo"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository/memory"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// seededMemoryStores builds in-process stores holding the demo collection,
// for running the storefront without PostgreSQL or Redis.
func seededMemoryStores() stores {
	catalog := memory.NewCatalog()
	for _, p := range demo.Products() {
		catalog.PutProduct(p.Product, p.Variants...)
		if len(p.Options) > 0 {
			catalog.PutCharmOptions(p.ID, p.Options...)
		}
	}

	return stores{
		carts:    memory.NewCartRepository(),
		catalog:  catalog,
		stock:    catalog,
		promos:   memory.NewPromoRepository(demo.Promos()...),
		shipping: memory.NewShippingRepository(shipping.DefaultMethods(0)...),
		orders:   memory.NewOrderRepository(),
	}
}
