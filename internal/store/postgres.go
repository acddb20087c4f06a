package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/storekit/eawb-service/pkg/models"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrNoTransaction = errors.New("order has no payment transactions")
)

// ShippingUpdate carries the fields an AWB commit is allowed to touch on an
// order. Everything else on the record is left alone.
type ShippingUpdate struct {
	Status                models.ShippingStatus
	AWBNumber             string
	CarrierName           string
	TrackingURL           string
	EstimatedDeliveryDate string
}

// Postgres is the authoritative order store.
type Postgres struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgres(db *sql.DB, logger *logrus.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func Open(dsn string, logger *logrus.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewPostgres(db, logger), nil
}

// WaitReady pings the database until it answers or attempts run out.
func (s *Postgres) WaitReady(attempts int) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = s.db.Ping(); err == nil {
			s.logger.Info("Database connection established")
			return nil
		}
		s.logger.Info("Waiting for database...")
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("database not reachable: %w", err)
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

func (s *Postgres) Ping() error {
	return s.db.Ping()
}

func (s *Postgres) CreateSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(255) PRIMARY KEY,
			customer_name VARCHAR(255) NOT NULL,
			customer_email VARCHAR(255) NOT NULL,
			total_amount DECIMAL(10,2) NOT NULL,
			currency VARCHAR(8) NOT NULL,
			payment_status VARCHAR(50) NOT NULL,
			shipping_status VARCHAR(50) NOT NULL,
			awb_number VARCHAR(255),
			carrier_name VARCHAR(255),
			tracking_url TEXT,
			estimated_delivery_date VARCHAR(64),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS payment_transactions (
			id VARCHAR(255) PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL REFERENCES orders(id),
			provider_payment_id VARCHAR(255),
			status VARCHAR(50) NOT NULL,
			amount DECIMAL(10,2) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_transactions_order_id ON payment_transactions(order_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_shipping_status ON orders(shipping_status)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id, customer_name, customer_email, total_amount, currency,
	payment_status, shipping_status, awb_number, carrier_name, tracking_url,
	estimated_delivery_date, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	order := &models.Order{}
	var awb, carrier, tracking, edd sql.NullString
	err := row.Scan(
		&order.ID, &order.CustomerName, &order.CustomerEmail, &order.TotalAmount,
		&order.Currency, &order.PaymentStatus, &order.ShippingStatus,
		&awb, &carrier, &tracking, &edd, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.AWBNumber = awb.String
	order.CarrierName = carrier.String
	order.TrackingURL = tracking.String
	order.EstimatedDeliveryDate = edd.String
	return order, nil
}

func (s *Postgres) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

func (s *Postgres) ListOrders(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Postgres) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, customer_name, customer_email, total_amount, currency,
			payment_status, shipping_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, order.ID, order.CustomerName,
		order.CustomerEmail, order.TotalAmount, order.Currency,
		order.PaymentStatus, order.ShippingStatus, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// UpdateShipping writes the AWB fields a commit owns. The AWB number is also
// written on cancellation updates only when non-empty, preserving tracking
// data for cancelled shipments.
func (s *Postgres) UpdateShipping(ctx context.Context, id string, update ShippingUpdate) error {
	query := `
		UPDATE orders
		SET shipping_status = $2,
			awb_number = COALESCE(NULLIF($3, ''), awb_number),
			carrier_name = COALESCE(NULLIF($4, ''), carrier_name),
			tracking_url = COALESCE(NULLIF($5, ''), tracking_url),
			estimated_delivery_date = COALESCE(NULLIF($6, ''), estimated_delivery_date),
			updated_at = $7
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, update.Status, update.AWBNumber,
		update.CarrierName, update.TrackingURL, update.EstimatedDeliveryDate, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update shipping fields: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	query := `UPDATE orders SET payment_status = $2, updated_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return requireRow(res)
}

// LatestPaymentTransaction returns the single most recent transaction for the
// order, by creation time descending.
func (s *Postgres) LatestPaymentTransaction(ctx context.Context, orderID string) (*models.PaymentTransaction, error) {
	query := `
		SELECT id, order_id, provider_payment_id, status, amount, created_at
		FROM payment_transactions
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	tx := &models.PaymentTransaction{}
	var providerID sql.NullString
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(
		&tx.ID, &tx.OrderID, &providerID, &tx.Status, &tx.Amount, &tx.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoTransaction
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment transaction: %w", err)
	}
	tx.ProviderPaymentID = providerID.String
	return tx, nil
}

func (s *Postgres) InsertPaymentTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (id, order_id, provider_payment_id, status, amount, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, tx.ID, tx.OrderID, tx.ProviderPaymentID,
		tx.Status, tx.Amount, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment transaction: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}
