// Package catalogue — query-only доступ к каталогу товаров.
package catalogue

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Service отдаёт публичный каталог. Операций записи у него нет.
type Service struct {
	products domain.ProductQuery
	logger   *log.Entry
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductQuery, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalogue")
	}
	return &Service{products: products, logger: logger}
}

// List возвращает активные товары, которые есть на складе.
func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	products, err := s.products.ListVisible(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("list catalogue failed")
		return nil, fmt.Errorf("list catalogue: %w", err)
	}
	return products, nil
}

// Get возвращает карточку товара. Снятый с продажи или закончившийся товар
// публичному каталогу не виден и отдаётся как ErrProductNotFound.
func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	if !product.Visible() {
		return domain.Product{}, fmt.Errorf("get product %s: %w", id, domain.ErrProductNotFound)
	}
	return product, nil
}
