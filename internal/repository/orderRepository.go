package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veerananda/billgenie-sync/internal/domain"
	"github.com/veerananda/billgenie-sync/internal/logger"
)

var ErrNotFound = errors.New("not found")

// statusRank orders item statuses inside SQL so updates never move an item backwards.
const statusRank = `array_position(ARRAY['pending','cooking','ready','served']::text[], %s)`

// OrderRepository is the authoritative order service backed by Postgres.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(p *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: p}
}

// ListOrders returns every order that is not cancelled, oldest first, with its items.
func (r *OrderRepository) ListOrders(ctx context.Context) ([]domain.RemoteOrder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, table_ref, customer_name, total_amount::float8, final_amount::float8,
		       status, is_self_service, order_number, created_at, completed_at
		FROM pos.orders
		WHERE status <> 'cancelled'
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []domain.RemoteOrder
		ids    []string
	)
	for rows.Next() {
		var (
			o           domain.RemoteOrder
			selfService bool
			createdAt   time.Time
			completedAt *time.Time
		)
		if err := rows.Scan(&o.ID, &o.TableID, &o.CustomerName, &o.TotalAmount, &o.FinalAmount,
			&o.Status, &selfService, &o.OrderNumber, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.IsSelfService = &selfService
		o.CreatedAt = createdAt.UnixMilli()
		o.CompletedAt = millis(completedAt)
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	return attachItems(orders, items), nil
}

type itemRow struct {
	orderID string
	item    domain.RemoteItem
}

func (r *OrderRepository) itemsFor(ctx context.Context, orderIDs []string) ([]itemRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, id, name, price::float8, quantity, is_vegetarian,
		       status, status_changed_at, COALESCE(menu_id, '')
		FROM pos.order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var out []itemRow
	for rows.Next() {
		var (
			ir      itemRow
			changed time.Time
		)
		if err := rows.Scan(&ir.orderID, &ir.item.ID, &ir.item.Name, &ir.item.Price, &ir.item.Quantity,
			&ir.item.IsVegetarian, &ir.item.Status, &changed, &ir.item.MenuID); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		ir.item.StatusChangedAt = changed.UnixMilli()
		out = append(out, ir)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

// attachItems distributes item rows to their orders, keeping row order.
func attachItems(orders []domain.RemoteOrder, items []itemRow) []domain.RemoteOrder {
	idx := make(map[string]int, len(orders))
	for i, o := range orders {
		idx[o.ID] = i
	}
	for _, ir := range items {
		i, ok := idx[ir.orderID]
		if !ok {
			continue
		}
		orders[i].Items = append(orders[i].Items, ir.item)
	}
	return orders
}

func (r *OrderRepository) UpdateOrderItemStatus(ctx context.Context, orderID, itemID string, status domain.ItemStatus) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM pos.order_items WHERE order_id = $1 AND id = $2 FOR UPDATE`,
		orderID, itemID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("item %s/%s: %w", orderID, itemID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock item: %w", err)
	}
	cur, err := domain.ParseItemStatus(current)
	if err == nil && cur.Rank() >= status.Rank() {
		// already there or past it
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE pos.order_items SET status = $3, status_changed_at = now()
		WHERE order_id = $1 AND id = $2`, orderID, itemID, string(status)); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO pos.item_status_log (order_id, item_id, status) VALUES ($1, $2, $3)`,
		orderID, itemID, string(status)); err != nil {
		return fmt.Errorf("log item status: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *OrderRepository) UpdateOrderItemsByGroupKey(ctx context.Context, orderID, groupKey string, status domain.ItemStatus) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		UPDATE pos.order_items SET status = $3, status_changed_at = now()
		WHERE order_id = $1 AND menu_id = $2 AND %s < %s
		RETURNING id`, fmt.Sprintf(statusRank, "status"), fmt.Sprintf(statusRank, "$3::text")),
		orderID, groupKey, string(status))
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	moved, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("collect group: %w", err)
	}

	if len(moved) == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pos.order_items WHERE order_id = $1 AND menu_id = $2)`,
			orderID, groupKey).Scan(&exists); err != nil {
			return fmt.Errorf("check group: %w", err)
		}
		if !exists {
			return fmt.Errorf("group %s/%s: %w", orderID, groupKey, ErrNotFound)
		}
		return tx.Commit(ctx)
	}

	batch := &pgx.Batch{}
	for _, id := range moved {
		batch.Queue(`INSERT INTO pos.item_status_log (order_id, item_id, status) VALUES ($1, $2, $3)`,
			orderID, id, string(status))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("log group status: %w", err)
	}
	return tx.Commit(ctx)
}

// CreateOrder inserts the order and its items. Replaying an order that already
// exists is a no-op.
func (r *OrderRepository) CreateOrder(ctx context.Context, o domain.RemoteOrder) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	selfService := o.IsSelfService != nil && *o.IsSelfService
	status := o.Status
	if status == "" {
		status = string(domain.OrderPending)
	}
	var completedAt *time.Time
	if o.CompletedAt != nil {
		t := time.UnixMilli(*o.CompletedAt)
		completedAt = &t
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO pos.orders
			(id, table_ref, customer_name, total_amount, final_amount, status,
			 is_self_service, order_number, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.TableID, o.CustomerName, o.TotalAmount, o.FinalAmount, status,
		selfService, o.OrderNumber, time.UnixMilli(o.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		logger.Debug("order already stored", "order", o.ID)
		return tx.Commit(ctx)
	}

	if len(o.Items) > 0 {
		batch := &pgx.Batch{}
		for i, it := range o.Items {
			itemStatus := it.Status
			if itemStatus == "" {
				itemStatus = string(domain.ItemPending)
			}
			var menuID *string
			if it.MenuID != "" {
				menuID = &it.MenuID
			}
			batch.Queue(`
				INSERT INTO pos.order_items
					(id, order_id, position, name, price, quantity, is_vegetarian, status, status_changed_at, menu_id)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				it.ID, o.ID, i, it.Name, it.Price, it.Quantity, it.IsVegetarian, itemStatus,
				time.UnixMilli(itemChangedAt(it, o.CreatedAt)), menuID)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UnixMilli()
	return &v
}

func itemChangedAt(it domain.RemoteItem, createdAt int64) int64 {
	if it.StatusChangedAt > 0 {
		return it.StatusChangedAt
	}
	return createdAt
}

func (r *OrderRepository) CompleteOrder(ctx context.Context, orderID string, finalAmount float64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pos.orders
		SET status = 'completed', final_amount = $2, updated_at = now(),
		    completed_at = COALESCE(completed_at, now())
		WHERE id = $1 AND status <> 'cancelled'`, orderID, finalAmount)
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

func (r *OrderRepository) CancelOrder(ctx context.Context, orderID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pos.orders SET status = 'cancelled', updated_at = now()
		WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return nil
}
