package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultPingTimeout is the default timeout for ping operations
	DefaultPingTimeout = 5 * time.Second
)

const (
	productColumns = `id, name, part_number, category_id, active`
	storeColumns   = `id, name, base_url, active`
	offerColumns   = `id, product_id, store_id, price, previous_price, is_markdown,
	available, source_url, active, version, created_at, updated_at`
)

// queryer is satisfied by *sqlx.DB and by the *sqlx.Conn a session pins.
type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres is the PostgreSQL-backed Store.
type Postgres struct {
	db *sqlx.DB
	postgresQueries
}

var _ Store = (*Postgres)(nil)

// NewPostgresConnection opens and pings a PostgreSQL connection pool.
func NewPostgresConnection(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", pingErr)
	}

	return db, nil
}

// NewPostgres wraps an open database.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, postgresQueries: postgresQueries{q: db}}
}

// Begin pins one pooled connection for the session.
func (p *Postgres) Begin(ctx context.Context) (Session, error) {
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &postgresSession{conn: conn, postgresQueries: postgresQueries{q: conn}}, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// SaveProduct upserts by part number.
func (p *Postgres) SaveProduct(ctx context.Context, prod domain.Product) (domain.Product, error) {
	query := `
		INSERT INTO products (name, part_number, category_id, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (part_number) DO UPDATE
		SET name = EXCLUDED.name, category_id = EXCLUDED.category_id,
			active = EXCLUDED.active, updated_at = NOW()
		RETURNING id
	`

	if err := p.db.GetContext(ctx, &prod.ID, query, prod.Name, prod.PartNumber, prod.CategoryID, prod.Active); err != nil {
		return domain.Product{}, fmt.Errorf("failed to save product %s: %w", prod.PartNumber, err)
	}
	return prod, nil
}

// EnsureStore inserts the store when missing, then selects it.
func (p *Postgres) EnsureStore(ctx context.Context, name, baseURL string) (domain.Store, error) {
	insertQuery := `INSERT INTO stores (name, base_url) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`
	if _, err := p.db.ExecContext(ctx, insertQuery, name, baseURL); err != nil {
		return domain.Store{}, fmt.Errorf("failed to insert store %s: %w", name, err)
	}

	var s domain.Store
	selectQuery := `SELECT ` + storeColumns + ` FROM stores WHERE name = $1`
	if err := p.db.GetContext(ctx, &s, selectQuery, name); err != nil {
		return domain.Store{}, fmt.Errorf("failed to select store %s: %w", name, err)
	}
	return s, nil
}

type postgresSession struct {
	conn *sqlx.Conn
	postgresQueries
}

func (s *postgresSession) Close() error {
	return s.conn.Close()
}

type postgresQueries struct {
	q queryer
}

func (r postgresQueries) ActiveProducts(ctx context.Context) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE active ORDER BY id`

	var products []domain.Product
	if err := r.q.SelectContext(ctx, &products, query); err != nil {
		return nil, fmt.Errorf("failed to list active products: %w", err)
	}
	return products, nil
}

func (r postgresQueries) ActiveStores(ctx context.Context) ([]domain.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores WHERE active ORDER BY id`

	var stores []domain.Store
	if err := r.q.SelectContext(ctx, &stores, query); err != nil {
		return nil, fmt.Errorf("failed to list active stores: %w", err)
	}
	return stores, nil
}

func (r postgresQueries) Product(ctx context.Context, id int64) (domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	var p domain.Product
	if err := r.q.GetContext(ctx, &p, query, id); err != nil {
		return domain.Product{}, notFound(fmt.Sprintf("product %d", id), err)
	}
	return p, nil
}

func (r postgresQueries) Store(ctx context.Context, id int64) (domain.Store, error) {
	query := `SELECT ` + storeColumns + ` FROM stores WHERE id = $1`

	var s domain.Store
	if err := r.q.GetContext(ctx, &s, query, id); err != nil {
		return domain.Store{}, notFound(fmt.Sprintf("store %d", id), err)
	}
	return s, nil
}

func (r postgresQueries) GetOffer(ctx context.Context, productID, storeID int64) (domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE product_id = $1 AND store_id = $2`

	var o domain.Offer
	if err := r.q.GetContext(ctx, &o, query, productID, storeID); err != nil {
		return domain.Offer{}, notFound(fmt.Sprintf("offer %d/%d", productID, storeID), err)
	}
	return o, nil
}

func (r postgresQueries) UpsertOffer(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	}
	if o.Version == 0 {
		return r.insertOffer(ctx, o)
	}
	return r.updateOffer(ctx, o)
}

// insertOffer relies on UNIQUE (product_id, store_id): a concurrent create
// inserts nothing and RETURNING yields no row.
func (r postgresQueries) insertOffer(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	query := `
		INSERT INTO offers (product_id, store_id, price, previous_price, is_markdown,
			available, source_url, active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
		ON CONFLICT (product_id, store_id) DO NOTHING
		RETURNING ` + offerColumns

	var stored domain.Offer
	err := r.q.GetContext(ctx, &stored, query,
		o.ProductID, o.StoreID, o.Price, o.PreviousPrice, o.IsMarkdown,
		o.Available, o.SourceURL, o.Active, o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Offer{}, fmt.Errorf("create offer %d/%d: %w", o.ProductID, o.StoreID, ErrVersionConflict)
	}
	if err != nil {
		return domain.Offer{}, fmt.Errorf("failed to insert offer %d/%d: %w", o.ProductID, o.StoreID, err)
	}
	return stored, nil
}

func (r postgresQueries) updateOffer(ctx context.Context, o domain.Offer) (domain.Offer, error) {
	query := `
		UPDATE offers
		SET price = $3, previous_price = $4, is_markdown = $5, available = $6,
			source_url = $7, active = $8, version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $2
		RETURNING ` + offerColumns

	var stored domain.Offer
	err := r.q.GetContext(ctx, &stored, query,
		o.ID, o.Version, o.Price, o.PreviousPrice, o.IsMarkdown,
		o.Available, o.SourceURL, o.Active, o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Offer{}, fmt.Errorf("update offer %d/%d: %w", o.ProductID, o.StoreID, ErrVersionConflict)
	}
	if err != nil {
		return domain.Offer{}, fmt.Errorf("failed to update offer %d/%d: %w", o.ProductID, o.StoreID, err)
	}
	return stored, nil
}

func (r postgresQueries) Categories(ctx context.Context) ([]domain.Category, error) {
	query := `SELECT CAST(id AS TEXT) AS id, name FROM categories ORDER BY name`

	var categories []domain.Category
	if err := r.q.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

func notFound(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to select %s: %w", what, err)
}
