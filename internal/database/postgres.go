package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // The blank import is for the PostgreSQL driver
	"github.com/rs/zerolog/log"

	"github.com/Ruks-7/KilimoSmart-sub001/config"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/apperr"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
)

// Postgres is the sqlx-backed Store implementation.
type Postgres struct {
	SQL *sqlx.DB
}

// NewPostgres creates a new database connection pool.
func NewPostgres(cfg config.Config) (*Postgres, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	log.Info().Msg("Connecting to database...")
	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)

	log.Info().Msg("Database connection successful.")
	return &Postgres{SQL: db}, nil
}

// Migrate creates the core tables. A failure on the reservations table is
// logged and not fatal: losing the expiry safety net must not block valid
// purchases.
func (p *Postgres) Migrate(ctx context.Context) error {
	core := []string{
		`CREATE TABLE IF NOT EXISTS listed_items (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			unit TEXT NOT NULL DEFAULT 'kg',
			unit_price DOUBLE PRECISION NOT NULL,
			quantity_available INTEGER NOT NULL CHECK (quantity_available >= 0),
			status TEXT NOT NULL DEFAULT 'available'
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			total DOUBLE PRECISION NOT NULL,
			delivery_address TEXT NOT NULL DEFAULT '',
			delivery_date TIMESTAMPTZ,
			payment_method TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			payment_status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS order_line_items (
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			listed_item_id TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity > 0),
			unit_price DOUBLE PRECISION NOT NULL,
			subtotal DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (order_id, listed_item_id)
		)`,
	}
	for _, stmt := range core {
		if _, err := p.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	reservations := `CREATE TABLE IF NOT EXISTS reservations (
		order_id TEXT PRIMARY KEY REFERENCES orders(id) ON DELETE CASCADE,
		expires_at TIMESTAMPTZ NOT NULL,
		released BOOLEAN NOT NULL DEFAULT FALSE
	)`
	if _, err := p.SQL.ExecContext(ctx, reservations); err != nil {
		log.Warn().Err(err).Msg("Failed to set up reservations table; expiry sweep will be degraded.")
	}
	return nil
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.SQL.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *Postgres) GetListedItem(ctx context.Context, id string) (models.ListedItem, error) {
	return getListedItem(ctx, p.SQL, id)
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return getOrder(ctx, p.SQL, id)
}

func (p *Postgres) GetOrderLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error) {
	return getOrderLineItems(ctx, p.SQL, orderID)
}

// Close gracefully closes the database connection.
func (p *Postgres) Close() {
	log.Info().Msg("Closing database connection.")
	p.SQL.Close()
}

// pgTx implements Tx over a live sqlx transaction.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) GetListedItem(ctx context.Context, id string) (models.ListedItem, error) {
	return getListedItem(ctx, t.tx, id)
}

func (t *pgTx) ReserveStock(ctx context.Context, itemID string, qty int) error {
	query := `UPDATE listed_items
		SET quantity_available = quantity_available - $1
		WHERE id = $2 AND status = 'available' AND quantity_available >= $1`
	result, err := t.tx.ExecContext(ctx, query, qty, itemID)
	if err != nil {
		return fmt.Errorf("error reserving stock for item %s: %w", itemID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for item %s: %w", itemID, err)
	}
	if rows > 0 {
		return nil
	}

	// The conditional update did not match; figure out which contract
	// failure to report without mutating anything.
	item, err := getListedItem(ctx, t.tx, itemID)
	if err != nil {
		return err
	}
	if item.Status != models.ListedItemAvailable {
		return apperr.ErrItemUnavailable
	}
	return apperr.ErrInsufficientStock
}

func (t *pgTx) RestoreStock(ctx context.Context, itemID string, qty int) error {
	query := `UPDATE listed_items SET quantity_available = quantity_available + $1 WHERE id = $2`
	result, err := t.tx.ExecContext(ctx, query, qty, itemID)
	if err != nil {
		return fmt.Errorf("error restoring stock for item %s: %w", itemID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrItemNotFound
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `INSERT INTO orders
		(id, buyer_id, seller_id, total, delivery_address, delivery_date, payment_method, notes, status, payment_status, created_at, updated_at)
		VALUES (:id, :buyer_id, :seller_id, :total, :delivery_address, :delivery_date, :payment_method, :notes, :status, :payment_status, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, order); err != nil {
		return fmt.Errorf("error inserting order %s: %w", order.ID, err)
	}
	return nil
}

func (t *pgTx) InsertLineItems(ctx context.Context, items []models.OrderLineItem) error {
	query := `INSERT INTO order_line_items (order_id, listed_item_id, quantity, unit_price, subtotal)
		VALUES (:order_id, :listed_item_id, :quantity, :unit_price, :subtotal)`
	for _, item := range items {
		if _, err := t.tx.NamedExecContext(ctx, query, item); err != nil {
			return fmt.Errorf("error inserting line item for order %s: %w", item.OrderID, err)
		}
	}
	return nil
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return getOrder(ctx, t.tx, id)
}

func (t *pgTx) GetOrderLineItems(ctx context.Context, orderID string) ([]models.OrderLineItem, error) {
	return getOrderLineItems(ctx, t.tx, orderID)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	query := `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
	result, err := t.tx.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("error updating status for order %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	query := `UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`
	result, err := t.tx.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("error updating payment status for order %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperr.ErrOrderNotFound
	}
	return nil
}

// UpsertReservation runs inside a savepoint so a failure here cannot poison
// the surrounding order transaction; the caller treats it as a soft failure.
func (t *pgTx) UpsertReservation(ctx context.Context, orderID string, expiresAt time.Time) error {
	if _, err := t.tx.ExecContext(ctx, `SAVEPOINT resv`); err != nil {
		return err
	}
	query := `INSERT INTO reservations (order_id, expires_at, released)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (order_id) DO UPDATE SET expires_at = EXCLUDED.expires_at, released = FALSE`
	if _, err := t.tx.ExecContext(ctx, query, orderID, expiresAt); err != nil {
		_, _ = t.tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT resv`)
		return fmt.Errorf("error upserting reservation for order %s: %w", orderID, err)
	}
	_, err := t.tx.ExecContext(ctx, `RELEASE SAVEPOINT resv`)
	return err
}

func (t *pgTx) ReleaseReservation(ctx context.Context, orderID string) (bool, error) {
	query := `UPDATE reservations SET released = TRUE WHERE order_id = $1 AND released = FALSE`
	result, err := t.tx.ExecContext(ctx, query, orderID)
	if err != nil {
		return false, fmt.Errorf("error releasing reservation for order %s: %w", orderID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM reservations WHERE order_id = $1)`, orderID); err != nil {
		return false, err
	}
	if !exists {
		return false, apperr.ErrReservationNotFound
	}
	return false, nil
}

func (t *pgTx) GetReservation(ctx context.Context, orderID string) (models.Reservation, error) {
	var res models.Reservation
	query := `SELECT order_id, expires_at, released FROM reservations WHERE order_id = $1`
	err := t.tx.GetContext(ctx, &res, query, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reservation{}, apperr.ErrReservationNotFound
	}
	return res, err
}

// ExpiredReservations uses a locking read with SKIP LOCKED so concurrent
// sweep workers never reconcile the same reservation.
func (t *pgTx) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	query := `SELECT order_id, expires_at, released FROM reservations
		WHERE released = FALSE AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	if err := t.tx.SelectContext(ctx, &out, query, now, limit); err != nil {
		return nil, fmt.Errorf("error scanning expired reservations: %w", err)
	}
	return out, nil
}

// Shared query helpers usable with both the pool and a transaction.

type queryer interface {
	sqlx.QueryerContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func getListedItem(ctx context.Context, q queryer, id string) (models.ListedItem, error) {
	var item models.ListedItem
	query := `SELECT id, seller_id, name, unit, unit_price, quantity_available, status FROM listed_items WHERE id = $1`
	err := q.GetContext(ctx, &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ListedItem{}, apperr.ErrItemNotFound
	}
	if err != nil {
		return models.ListedItem{}, fmt.Errorf("could not get listed item %s: %w", id, err)
	}
	return item, nil
}

func getOrder(ctx context.Context, q queryer, id string) (models.Order, error) {
	var order models.Order
	query := `SELECT id, buyer_id, seller_id, total, delivery_address, delivery_date, payment_method, notes, status, payment_status, created_at, updated_at
		FROM orders WHERE id = $1`
	err := q.GetContext(ctx, &order, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, apperr.ErrOrderNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("could not get order %s: %w", id, err)
	}
	return order, nil
}

func getOrderLineItems(ctx context.Context, q queryer, orderID string) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	query := `SELECT order_id, listed_item_id, quantity, unit_price, subtotal FROM order_line_items WHERE order_id = $1`
	if err := q.SelectContext(ctx, &items, query, orderID); err != nil {
		return nil, fmt.Errorf("could not get line items for order %s: %w", orderID, err)
	}
	return items, nil
}
