package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productDocument struct {
	ID        string               `bson:"_id"`
	Name      string               `bson:"name"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	Stock     int                  `bson:"stock"`
	Status    string               `bson:"status"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (d productDocument) toDomain() (domain.Product, error) {
	price, err := fromDecimal128(d.UnitPrice)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        d.ID,
		Name:      d.Name,
		UnitPrice: price,
		Stock:     d.Stock,
		Status:    domain.ProductStatus(d.Status),
	}, nil
}

type productRepository struct {
	collection *mongo.Collection
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if product.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidQuantity
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}

	price, err := toDecimal128(product.UnitPrice)
	if err != nil {
		return domain.Product{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc := productDocument{
		ID:        product.ID,
		Name:      product.Name,
		UnitPrice: price,
		Stock:     product.Stock,
		Status:    string(product.Status),
		UpdatedAt: time.Now().UTC(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": product.ID}, doc, opts); err != nil {
		return domain.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return product, nil
}

func (r *productRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc productDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("find product: %w", err)
	}
	return doc.toDomain()
}

func (r *productRepository) ListVisible(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{
		"status": string(domain.ProductStatusActive),
		"stock":  bson.M{"$gt": 0},
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

func (r *productRepository) CheckAvailable(ctx context.Context, productID string, quantity int) (bool, error) {
	product, err := r.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	return quantity > 0 && product.Stock >= quantity, nil
}

// Decrement списывает остаток условным $inc: фильтр по stock >= quantity
// и вычитание выполняются сервером атомарно для одного документа.
func (r *productRepository) Decrement(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": productID, "stock": bson.M{"$gte": quantity}}
	update := bson.M{
		"$inc": bson.M{"stock": -quantity},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": productID})
	if err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if count == 0 {
		return domain.ErrProductNotFound
	}
	return domain.ErrInsufficientStock
}

var _ domain.ProductRepository = (*productRepository)(nil)
