package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartItemDocument struct {
	ProductID string               `bson:"product_id"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
}

type cartDocument struct {
	ID        string             `bson:"_id"`
	UserID    string             `bson:"user_id"`
	Items     []cartItemDocument `bson:"items"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func newCartDocument(cart domain.Cart) (cartDocument, error) {
	doc := cartDocument{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Items:     make([]cartItemDocument, 0, len(cart.Items)),
		CreatedAt: cart.CreatedAt,
		UpdatedAt: cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		price, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return cartDocument{}, err
		}
		doc.Items = append(doc.Items, cartItemDocument{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	return doc, nil
}

func (d cartDocument) toDomain() (domain.Cart, error) {
	cart := domain.Cart{
		ID:        d.ID,
		UserID:    d.UserID,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	total := decimal.Zero
	for _, item := range d.Items {
		price, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return domain.Cart{}, err
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
		total = total.Add(domain.LineSubtotal(item.Quantity, price))
	}
	cart.Total = domain.RoundMoney(total)
	return cart, nil
}

type cartRepository struct {
	collection *mongo.Collection
}

// Save хранит корзину одним документом; уникальность корзины пользователя
// обеспечивает индекс user_id.
func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if cart.UserID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	create := cart.ID == ""
	if create {
		cart.ID = uuid.NewString()
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now

	doc, err := newCartDocument(cart)
	if err != nil {
		return domain.Cart{}, err
	}

	if create {
		if _, err := r.collection.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return domain.Cart{}, domain.ErrCartAlreadyExists
			}
			return domain.Cart{}, fmt.Errorf("insert cart: %w", err)
		}
		return cart.Clone(), nil
	}

	update := bson.M{"$set": bson.M{"items": doc.Items, "updated_at": doc.UpdatedAt}}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": cart.ID}, update)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("update cart: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (r *cartRepository) Get(ctx context.Context, id string) (domain.Cart, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *cartRepository) GetByUser(ctx context.Context, userID string) (domain.Cart, error) {
	return r.findOne(ctx, bson.M{"user_id": userID})
}

func (r *cartRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrCartNotFound
	}
	return nil
}

func (r *cartRepository) findOne(ctx context.Context, filter bson.M) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var doc cartDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("find cart: %w", err)
	}
	return doc.toDomain()
}

var _ domain.CartRepository = (*cartRepository)(nil)
