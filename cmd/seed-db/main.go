// Command seed-db loads a development dataset: a small catalog with
// discounts and collections, a few members, demo coupons, and one placed
// order with payments.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/becon/pricing-engine/internal/repository"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	for name, stmts := range seedSets {
		slog.Info("seeding", slog.String("set", name))
		if err := execAll(ctx, pool, stmts); err != nil {
			return errors.Wrapf(err, "seed %s", name)
		}
	}

	return nil
}

func execAll(ctx context.Context, pool *pgxpool.Pool, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// seedSets are idempotent: every statement carries an ON CONFLICT clause or
// a guard, so re-running the command is safe.
var seedSets = map[string][]string{
	"catalog": {
		`INSERT INTO products (id, name, store_id, base_price, quantity) VALUES
			(1, 'Waffle with Berries', 1, 6.500, 100),
			(2, 'Vanilla Bean Creme Brulee', 1, 7.000, 80),
			(3, 'Macaron Mix of Five', 2, 8.000, 50),
			(4, 'Classic Tiramisu', 2, 5.500, 60)
		ON CONFLICT (id) DO NOTHING`,
		`SELECT setval('products_id_seq', (SELECT MAX(id) FROM products))`,
		`INSERT INTO product_discounts (product_id, percentage) VALUES (2, 50.000)
		ON CONFLICT (product_id) DO UPDATE SET percentage = EXCLUDED.percentage`,
		`INSERT INTO collections (id, name) VALUES (1, 'Desserts') ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO collection_products (collection_id, product_id) VALUES (1, 3), (1, 4)
		ON CONFLICT DO NOTHING`,
	},
	"members": {
		`INSERT INTO members (id, email, full_name) VALUES
			(1, 'alice@example.com', 'Alice Demo'),
			(2, 'bob@example.com', 'Bob Demo')
		ON CONFLICT (id) DO NOTHING`,
		`SELECT setval('members_id_seq', (SELECT MAX(id) FROM members))`,
	},
	"coupons": {
		`INSERT INTO coupons (code, type, status, deduct_percent, for_all_products, for_all_customers)
		VALUES ('WELCOME10', 'PER', 'AC', 10.000, TRUE, TRUE)
		ON CONFLICT (code) DO NOTHING`,
		`INSERT INTO coupons (code, type, status, deduct_amount, for_all_products, for_all_customers, min_purchase_amount)
		VALUES ('FIVEOFF', 'FA', 'AC', 5.000, TRUE, TRUE, 20.000)
		ON CONFLICT (code) DO NOTHING`,
		`INSERT INTO coupons (code, type, status, for_all_products, for_customers_with_no_orders)
		VALUES ('FREESHIP', 'FS', 'AC', TRUE, TRUE)
		ON CONFLICT (code) DO NOTHING`,
	},
	"orders": {
		`INSERT INTO orders (id, status, customer_id, shipping_charge) VALUES (1, 'OP', 1, 2.000)
		ON CONFLICT (id) DO NOTHING`,
		`SELECT setval('orders_id_seq', (SELECT MAX(id) FROM orders))`,
		`INSERT INTO order_items (id, order_id, product_id, quantity, price) VALUES
			(1, 1, 1, 2, 6.500),
			(2, 1, 2, 1, 3.500)
		ON CONFLICT (id) DO NOTHING`,
		`SELECT setval('order_items_id_seq', (SELECT MAX(id) FROM order_items))`,
		`INSERT INTO payments (order_id, amount, status)
		SELECT 1, 18.500, 'success'
		WHERE NOT EXISTS (SELECT 1 FROM payments WHERE order_id = 1)`,
	},
}
