// Package postgres implements the order lifecycle bridge against the
// marketplace's postgres database using pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jammarkeun/PawfectFinds/core/model"
	"github.com/Jammarkeun/PawfectFinds/core/store"
)

// Config defines the database connection parameters.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// SetDefaults fills unset connection parameters.
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.User == "" {
		c.User = "postgres"
	}
	if c.Database == "" {
		c.Database = "pawfectfinds"
	}
}

// DSN returns the postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// Store implements store.OrderStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.OrderStore = (*Store)(nil)

// Connect opens a pool and verifies the connection, retrying while the
// database comes up.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	cfg.SetDefaults()

	const (
		maxRetries = 10
		retryDelay = 2 * time.Second
		pingTTL    = 5 * time.Second
	)

	var err error
	for i := 1; i <= maxRetries; i++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.New(ctx, cfg.DSN())
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, pingTTL)
			err = pool.Ping(pctx)
			cancel()
			if err == nil {
				return &Store{pool: pool}, nil
			}
			pool.Close()
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("postgres connect canceled: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", maxRetries, err)
}

// NewWithPool wraps an existing pool. Test seam.
func NewWithPool(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id               TEXT PRIMARY KEY,
    order_number     TEXT NOT NULL,
    seller_id        TEXT NOT NULL,
    customer_id      TEXT NOT NULL DEFAULT '',
    total_amount     NUMERIC NOT NULL DEFAULT 0,
    pickup_address   JSONB NOT NULL DEFAULT '{}',
    delivery_address JSONB NOT NULL DEFAULT '{}',
    items            JSONB NOT NULL DEFAULT '[]',
    status           TEXT NOT NULL,
    rider_id         TEXT,
    assigned_at      TIMESTAMPTZ,
    picked_up_at     TIMESTAMPTZ,
    delivered_at     TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS deliveries (
    id            TEXT PRIMARY KEY,
    order_id      TEXT NOT NULL REFERENCES orders(id),
    rider_id      TEXT NOT NULL,
    status        TEXT NOT NULL,
    notes         TEXT NOT NULL DEFAULT '',
    assigned_at   TIMESTAMPTZ NOT NULL,
    picked_up_at  TIMESTAMPTZ,
    on_the_way_at TIMESTAMPTZ,
    delivered_at  TIMESTAMPTZ,
    failed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_orders_dispatchable ON orders(status) WHERE rider_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_deliveries_rider ON deliveries(rider_id, status);
`

// EnsureSchema creates the dispatch tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const orderColumns = `id, order_number, seller_id, customer_id, total_amount,
    pickup_address, delivery_address, items, status, rider_id,
    assigned_at, picked_up_at, delivered_at`

type orderRow interface {
	Scan(dest ...any) error
}

func scanOrder(row orderRow) (model.Order, error) {
	var (
		o              model.Order
		pickup, drop   []byte
		items          []byte
		riderID        *string
		assigned       *time.Time
		pickedUp       *time.Time
		delivered      *time.Time
	)
	err := row.Scan(&o.ID, &o.Number, &o.SellerID, &o.CustomerID, &o.TotalAmount,
		&pickup, &drop, &items, &o.Status, &riderID,
		&assigned, &pickedUp, &delivered)
	if err != nil {
		return model.Order{}, err
	}
	if err := json.Unmarshal(pickup, &o.PickupAddress); err != nil {
		return model.Order{}, fmt.Errorf("decode pickup_address: %w", err)
	}
	if err := json.Unmarshal(drop, &o.DeliveryAddress); err != nil {
		return model.Order{}, fmt.Errorf("decode delivery_address: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return model.Order{}, fmt.Errorf("decode items: %w", err)
	}
	if riderID != nil {
		o.RiderID = *riderID
	}
	if assigned != nil {
		o.AssignedAt = *assigned
	}
	if pickedUp != nil {
		o.PickedUpAt = *pickedUp
	}
	if delivered != nil {
		o.DeliveredAt = *delivered
	}
	return o, nil
}

func (s *Store) OrderByID(ctx context.Context, orderID string) (model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, store.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) DispatchableOrder(ctx context.Context, orderID string) (model.Order, error) {
	o, err := s.OrderByID(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if !o.Dispatchable() {
		return model.Order{}, store.ErrOrderTaken
	}
	return o, nil
}

func (s *Store) OrdersReadyForPickup(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+`
        FROM orders WHERE status=$1 AND rider_id IS NULL ORDER BY id`,
		string(model.OrderReadyForPickup))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// AssignOrder claims the order with a conditional update. The WHERE clause
// is the serialization point: of any number of concurrent callers only the
// one whose update matches a row wins.
func (s *Store) AssignOrder(ctx context.Context, orderID, riderID string, at time.Time) (model.Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Delivery{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE orders
        SET status=$3, rider_id=$2, assigned_at=$4
        WHERE id=$1 AND status=$5 AND rider_id IS NULL`,
		orderID, riderID, string(model.OrderAssigned), at, string(model.OrderReadyForPickup))
	if err != nil {
		return model.Delivery{}, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); err != nil {
			return model.Delivery{}, err
		}
		if !exists {
			return model.Delivery{}, store.ErrOrderNotFound
		}
		return model.Delivery{}, store.ErrOrderTaken
	}

	d := model.Delivery{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		RiderID:    riderID,
		Status:     model.DeliveryAssigned,
		AssignedAt: at,
	}
	if _, err := tx.Exec(ctx, `INSERT INTO deliveries (id, order_id, rider_id, status, assigned_at)
        VALUES ($1,$2,$3,$4,$5)`,
		d.ID, d.OrderID, d.RiderID, string(d.Status), d.AssignedAt); err != nil {
		return model.Delivery{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Delivery{}, err
	}
	return d, nil
}

func (s *Store) RevertAssignment(ctx context.Context, orderID, deliveryID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM deliveries WHERE id=$1`, deliveryID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders
        SET status=$2, rider_id=NULL, assigned_at=NULL WHERE id=$1`,
		orderID, string(model.OrderReadyForPickup)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ReassignOrder(ctx context.Context, orderID, riderID, notes string, at time.Time) (model.Delivery, string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Delivery{}, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Delivery{}, "", store.ErrOrderNotFound
		}
		return model.Delivery{}, "", err
	}

	var (
		d    model.Delivery
		prev string
	)
	row := tx.QueryRow(ctx, `SELECT id, rider_id, status, assigned_at FROM deliveries
        WHERE order_id=$1 AND status NOT IN ($2,$3) FOR UPDATE`,
		orderID, string(model.DeliveryDelivered), string(model.DeliveryFailed))
	var dStatus string
	err = row.Scan(&d.ID, &prev, &dStatus, &d.AssignedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		d = model.Delivery{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			RiderID:    riderID,
			Status:     model.DeliveryAssigned,
			Notes:      notes,
			AssignedAt: at,
		}
		if _, err := tx.Exec(ctx, `INSERT INTO deliveries (id, order_id, rider_id, status, notes, assigned_at)
            VALUES ($1,$2,$3,$4,$5,$6)`,
			d.ID, d.OrderID, d.RiderID, string(d.Status), d.Notes, d.AssignedAt); err != nil {
			return model.Delivery{}, "", err
		}
	case err != nil:
		return model.Delivery{}, "", err
	default:
		d.OrderID = orderID
		d.RiderID = riderID
		d.Status = model.DeliveryStatus(dStatus)
		d.Notes = notes
		if _, err := tx.Exec(ctx, `UPDATE deliveries SET rider_id=$2, notes=$3 WHERE id=$1`,
			d.ID, riderID, notes); err != nil {
			return model.Delivery{}, "", err
		}
	}

	// The order status only moves forward; a progressed order keeps it.
	if status == string(model.OrderReadyForPickup) {
		if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, rider_id=$3, assigned_at=$4 WHERE id=$1`,
			orderID, string(model.OrderAssigned), riderID, at); err != nil {
			return model.Delivery{}, "", err
		}
	} else {
		if _, err := tx.Exec(ctx, `UPDATE orders SET rider_id=$2 WHERE id=$1`, orderID, riderID); err != nil {
			return model.Delivery{}, "", err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Delivery{}, "", err
	}
	return d, prev, nil
}

const deliveryColumns = `id, order_id, rider_id, status, notes,
    assigned_at, picked_up_at, on_the_way_at, delivered_at, failed_at`

func scanDelivery(row orderRow) (model.Delivery, error) {
	var (
		d                                      model.Delivery
		pickedUp, onTheWay, delivered, failed  *time.Time
	)
	err := row.Scan(&d.ID, &d.OrderID, &d.RiderID, &d.Status, &d.Notes,
		&d.AssignedAt, &pickedUp, &onTheWay, &delivered, &failed)
	if err != nil {
		return model.Delivery{}, err
	}
	if pickedUp != nil {
		d.PickedUpAt = *pickedUp
	}
	if onTheWay != nil {
		d.OnTheWayAt = *onTheWay
	}
	if delivered != nil {
		d.DeliveredAt = *delivered
	}
	if failed != nil {
		d.FailedAt = *failed
	}
	return d, nil
}

func (s *Store) DeliveryByID(ctx context.Context, deliveryID string) (model.Delivery, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=$1`, deliveryID)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Delivery{}, store.ErrDeliveryNotFound
	}
	return d, err
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, deliveryID string, status model.DeliveryStatus, notes string, at time.Time) (model.Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Delivery{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=$1 FOR UPDATE`, deliveryID)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Delivery{}, store.ErrDeliveryNotFound
	}
	if err != nil {
		return model.Delivery{}, err
	}
	if !d.Status.CanTransitionTo(status) {
		return model.Delivery{}, store.ErrInvalidTransition
	}

	column := ""
	switch status {
	case model.DeliveryPickedUp:
		column = "picked_up_at"
		d.PickedUpAt = at
	case model.DeliveryOnTheWay:
		column = "on_the_way_at"
		d.OnTheWayAt = at
	case model.DeliveryDelivered:
		column = "delivered_at"
		d.DeliveredAt = at
	case model.DeliveryFailed:
		column = "failed_at"
		d.FailedAt = at
	default:
		return model.Delivery{}, store.ErrInvalidTransition
	}
	d.Status = status
	if notes != "" {
		d.Notes = notes
	}
	if _, err := tx.Exec(ctx, `UPDATE deliveries SET status=$2, notes=$3, `+column+`=$4 WHERE id=$1`,
		deliveryID, string(status), d.Notes, at); err != nil {
		return model.Delivery{}, err
	}

	orderStatus := status.OrderStatus()
	switch status {
	case model.DeliveryPickedUp:
		_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, picked_up_at=$3 WHERE id=$1`,
			d.OrderID, string(orderStatus), at)
	case model.DeliveryDelivered:
		_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, delivered_at=$3 WHERE id=$1`,
			d.OrderID, string(orderStatus), at)
	case model.DeliveryFailed:
		_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, rider_id=NULL WHERE id=$1`,
			d.OrderID, string(orderStatus))
	default:
		_, err = tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE id=$1`, d.OrderID, string(orderStatus))
	}
	if err != nil {
		return model.Delivery{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Delivery{}, err
	}
	return d, nil
}

func (s *Store) OpenDeliveries(ctx context.Context, riderID string) ([]model.Delivery, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries
        WHERE rider_id=$1 AND status NOT IN ($2,$3) ORDER BY assigned_at`,
		riderID, string(model.DeliveryDelivered), string(model.DeliveryFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (s *Store) ActiveDeliveryCount(ctx context.Context, riderID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deliveries
        WHERE rider_id=$1 AND status NOT IN ($2,$3)`,
		riderID, string(model.DeliveryDelivered), string(model.DeliveryFailed)).Scan(&n)
	return n, err
}

func (s *Store) CompletedDeliveryDurations(ctx context.Context, riderID string, since time.Time) ([]float64, error) {
	rows, err := s.pool.Query(ctx, `SELECT EXTRACT(EPOCH FROM delivered_at - assigned_at)
        FROM deliveries
        WHERE rider_id=$1 AND status=$2 AND delivered_at >= $3
        ORDER BY delivered_at`,
		riderID, string(model.DeliveryDelivered), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// PutOrder upserts the dispatch-relevant order row. Used by the event
// bridge and tests to mirror the marketplace's order document.
func (s *Store) PutOrder(ctx context.Context, o model.Order) error {
	pickup, err := json.Marshal(o.PickupAddress)
	if err != nil {
		return err
	}
	drop, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return err
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	var riderID *string
	if o.RiderID != "" {
		riderID = &o.RiderID
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO orders
        (id, order_number, seller_id, customer_id, total_amount, pickup_address, delivery_address, items, status, rider_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (id) DO UPDATE SET
            order_number=EXCLUDED.order_number,
            seller_id=EXCLUDED.seller_id,
            customer_id=EXCLUDED.customer_id,
            total_amount=EXCLUDED.total_amount,
            pickup_address=EXCLUDED.pickup_address,
            delivery_address=EXCLUDED.delivery_address,
            items=EXCLUDED.items,
            status=EXCLUDED.status,
            rider_id=EXCLUDED.rider_id`,
		o.ID, o.Number, o.SellerID, o.CustomerID, o.TotalAmount, pickup, drop, items, string(o.Status), riderID)
	return err
}
