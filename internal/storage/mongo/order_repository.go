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

type orderItemDocument struct {
	ProductID   string               `bson:"product_id"`
	ProductName string               `bson:"product_name"`
	Quantity    int                  `bson:"quantity"`
	UnitPrice   primitive.Decimal128 `bson:"unit_price"`
}

type orderDocument struct {
	ID              string               `bson:"_id"`
	UserID          string               `bson:"user_id"`
	Items           []orderItemDocument  `bson:"items"`
	TotalPaid       primitive.Decimal128 `bson:"total_paid"`
	ShippingAddress string               `bson:"shipping_address"`
	PaymentMethod   string               `bson:"payment_method"`
	PaymentRef      string               `bson:"payment_ref"`
	Status          string               `bson:"status"`
	Version         int64                `bson:"version"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

func newOrderDocument(order domain.Order) (orderDocument, error) {
	total, err := toDecimal128(order.TotalPaid)
	if err != nil {
		return orderDocument{}, err
	}
	doc := orderDocument{
		ID:              order.ID,
		UserID:          order.UserID,
		Items:           make([]orderItemDocument, 0, len(order.Items)),
		TotalPaid:       total,
		ShippingAddress: order.ShippingAddress,
		PaymentMethod:   order.PaymentMethod,
		PaymentRef:      order.PaymentRef,
		Status:          string(order.Status),
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, item := range order.Items {
		price, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return orderDocument{}, err
		}
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
	}
	return doc, nil
}

func (d orderDocument) toDomain() (domain.Order, error) {
	total, err := fromDecimal128(d.TotalPaid)
	if err != nil {
		return domain.Order{}, err
	}
	order := domain.Order{
		ID:              d.ID,
		UserID:          d.UserID,
		Items:           make([]domain.OrderItem, 0, len(d.Items)),
		TotalPaid:       total,
		ShippingAddress: d.ShippingAddress,
		PaymentMethod:   d.PaymentMethod,
		PaymentRef:      d.PaymentRef,
		Status:          domain.OrderStatus(d.Status),
		Version:         d.Version,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	for _, item := range d.Items {
		price, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
	}
	return order, nil
}

type orderRepository struct {
	collection *mongo.Collection
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.ID == "" {
		order.ID = uuid.NewString()
		return r.create(ctx, order)
	}
	return r.update(ctx, order)
}

// Create вставляет заказ под его ID. Дубликат ключа _id означает, что
// предыдущая попытка уже записала заказ, и возвращается сохранённый документ.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	return r.create(ctx, order)
}

func (r *orderRepository) create(ctx context.Context, order domain.Order) (domain.Order, error) {
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	order.Version = 1

	doc, err := newOrderDocument(order)
	if err != nil {
		return domain.Order{}, err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return r.Get(ctx, order.ID)
		}
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return order.Clone(), nil
}

// update меняет статус и адрес доставки, если версия документа совпадает.
func (r *orderRepository) update(ctx context.Context, order domain.Order) (domain.Order, error) {
	order.UpdatedAt = time.Now().UTC()

	filter := bson.M{"_id": order.ID, "version": order.Version}
	update := bson.M{
		"$set": bson.M{
			"status":           string(order.Status),
			"shipping_address": order.ShippingAddress,
			"updated_at":       order.UpdatedAt,
		},
		"$inc": bson.M{"version": 1},
	}

	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}
	if res.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.M{"_id": order.ID})
		if err != nil {
			return domain.Order{}, fmt.Errorf("check order exists: %w", err)
		}
		if count == 0 {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	order.Version++
	return order.Clone(), nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc orderDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return doc.toDomain()
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.list(ctx, bson.M{"user_id": userID}, limit)
}

func (r *orderRepository) ListAll(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.list(ctx, bson.M{}, limit)
}

func (r *orderRepository) list(ctx context.Context, filter bson.M, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
