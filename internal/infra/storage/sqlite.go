package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"option_bot/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OrderRecord is the persisted form of a domain.Order. Keyed by the system
// order id so retried writes after a crash cannot duplicate state.
type OrderRecord struct {
	OrderID      string          `gorm:"primaryKey" json:"order_id"`
	ContractKey  string          `gorm:"index" json:"contract_key"`
	Symbol       string          `gorm:"index" json:"symbol"`
	Side         string          `json:"side"`
	Quantity     int64           `json:"quantity"`
	FilledQty    int64           `json:"filled_qty"`
	LimitPrice   decimal.Decimal `gorm:"type:text" json:"limit_price"`
	AvgFillPrice decimal.Decimal `gorm:"type:text" json:"avg_fill_price"`
	State        string          `gorm:"index" json:"state"`
	VenueOrderID string          `gorm:"index" json:"venue_order_id"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	CreatedAt    time.Time       `json:"created_at"`
	RetryCount   int             `json:"retry_count"`
	LastError    string          `json:"last_error"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PositionRecord is the persisted form of a domain.Position, keyed by
// contract.
type PositionRecord struct {
	ContractKey  string          `gorm:"primaryKey" json:"contract_key"`
	Symbol       string          `gorm:"index" json:"symbol"`
	Quantity     int64           `json:"quantity"`
	AveragePrice decimal.Decimal `gorm:"type:text" json:"average_price"`
	OpenedAt     time.Time       `json:"opened_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Storage persists orders and positions in SQLite through idempotent upserts.
type Storage struct {
	db *gorm.DB
}

// NewStorage creates a new SQLite storage instance at the given path.
// An empty path resolves to the OS user config directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		resolved, err := defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = resolved
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&OrderRecord{}, &PositionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func defaultDBPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "OptionBot", "data", "optionbot.db"), nil
}

// ======================================================================================
// Order Operations
// ======================================================================================

// UpsertOrder creates or updates an order record. Idempotent on order id.
func (s *Storage) UpsertOrder(order *domain.Order) error {
	rec := orderToRecord(order)
	return s.db.Save(rec).Error
}

// GetOrder retrieves an order by its system id. Not found is not an error.
func (s *Storage) GetOrder(orderID string) (*domain.Order, error) {
	var rec OrderRecord
	err := s.db.First(&rec, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recordToOrder(&rec)
}

// OpenOrders retrieves all orders in non-terminal states, for startup
// reconciliation.
func (s *Storage) OpenOrders() ([]*domain.Order, error) {
	var recs []OrderRecord
	err := s.db.
		Where("state IN ?", []string{
			domain.OrderStatePending.String(),
			domain.OrderStateSubmitted.String(),
			domain.OrderStateAcknowledged.String(),
			domain.OrderStatePartiallyFilled.String(),
		}).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, 0, len(recs))
	for i := range recs {
		order, err := recordToOrder(&recs[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// ======================================================================================
// Position Operations
// ======================================================================================

// UpsertPosition creates or updates a position record. Idempotent on contract.
func (s *Storage) UpsertPosition(position *domain.Position) error {
	rec := &PositionRecord{
		ContractKey:  position.Contract.Key(),
		Symbol:       position.Symbol,
		Quantity:     position.Quantity,
		AveragePrice: position.AveragePrice,
		OpenedAt:     position.OpenedAt,
		UpdatedAt:    position.UpdatedAt,
	}
	return s.db.Save(rec).Error
}

// Positions retrieves all non-flat positions.
func (s *Storage) Positions() ([]*domain.Position, error) {
	var recs []PositionRecord
	if err := s.db.Where("quantity <> 0").Find(&recs).Error; err != nil {
		return nil, err
	}

	positions := make([]*domain.Position, 0, len(recs))
	for i := range recs {
		contract, err := domain.ParseContractKey(recs[i].ContractKey)
		if err != nil {
			return nil, err
		}
		positions = append(positions, &domain.Position{
			Symbol:       recs[i].Symbol,
			Contract:     contract,
			Quantity:     recs[i].Quantity,
			AveragePrice: recs[i].AveragePrice,
			OpenedAt:     recs[i].OpenedAt,
			UpdatedAt:    recs[i].UpdatedAt,
		})
	}
	return positions, nil
}

func orderToRecord(order *domain.Order) *OrderRecord {
	return &OrderRecord{
		OrderID:      order.ID,
		ContractKey:  order.Contract.Key(),
		Symbol:       order.Contract.Underlying,
		Side:         string(order.Side),
		Quantity:     order.Quantity,
		FilledQty:    order.FilledQty,
		LimitPrice:   order.LimitPrice,
		AvgFillPrice: order.AvgFillPrice,
		State:        order.State.String(),
		VenueOrderID: order.VenueOrderID,
		SubmittedAt:  order.SubmittedAt,
		CreatedAt:    order.CreatedAt,
		RetryCount:   order.RetryCount,
		LastError:    order.LastError,
		UpdatedAt:    time.Now(),
	}
}

func recordToOrder(rec *OrderRecord) (*domain.Order, error) {
	contract, err := domain.ParseContractKey(rec.ContractKey)
	if err != nil {
		return nil, err
	}
	return &domain.Order{
		ID:           rec.OrderID,
		Contract:     contract,
		Side:         domain.OrderSide(rec.Side),
		Quantity:     rec.Quantity,
		FilledQty:    rec.FilledQty,
		LimitPrice:   rec.LimitPrice,
		AvgFillPrice: rec.AvgFillPrice,
		State:        domain.ParseOrderState(rec.State),
		VenueOrderID: rec.VenueOrderID,
		SubmittedAt:  rec.SubmittedAt,
		CreatedAt:    rec.CreatedAt,
		RetryCount:   rec.RetryCount,
		LastError:    rec.LastError,
	}, nil
}
