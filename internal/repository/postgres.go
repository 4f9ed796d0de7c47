// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/giftaid-donations/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrSessionNotFound возвращается, если сессия корзины не найдена.
	ErrSessionNotFound = errors.New("session not found")
)

const (
	settingDonationProductID = "donation_product_id"
	settingCharityName       = "charity_name"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового сотрудника с указанными правами.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, caps []model.Capability) (int64, error) {
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, string(c))
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, capabilities) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, names,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, capabilities, created_at FROM users WHERE login = $1`,
		login,
	)

	var (
		u    model.User
		caps []string
	)
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &caps, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	for _, c := range caps {
		u.Capabilities = append(u.Capabilities, model.Capability(c))
	}

	return &u, nil
}

const productColumns = `id, name, kind, regular_price::text, amount_increment::text,
	taxable, needs_shipping, is_virtual, sold_individually`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p         model.Product
		kind      string
		price     *string
		increment *string
	)
	err := row.Scan(&p.ID, &p.Name, &kind, &price, &increment,
		&p.Taxable, &p.NeedsShipping, &p.Virtual, &p.SoldIndividually)
	if err != nil {
		return nil, err
	}

	p.Kind = model.ProductKind(kind)
	if price != nil {
		if p.RegularPrice, err = decimal.NewFromString(*price); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
	}
	if increment != nil {
		if p.AmountIncrement, err = decimal.NewFromString(*increment); err != nil {
			return nil, fmt.Errorf("parse increment: %w", err)
		}
	}

	return &p, nil
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts возвращает все товары каталога.
func (r *PostgresRepository) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateProduct добавляет товар в каталог.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p model.Product) (int64, error) {
	var price, increment *string
	if !p.RegularPrice.IsZero() {
		v := p.RegularPrice.StringFixed(2)
		price = &v
	}
	if !p.AmountIncrement.IsZero() {
		v := p.AmountIncrement.StringFixed(2)
		increment = &v
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, kind, regular_price, amount_increment, taxable, needs_shipping, is_virtual, sold_individually)
		 VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5, $6, $7, $8)
		 RETURNING id`,
		p.Name, string(p.Kind), price, increment, p.Taxable, p.NeedsShipping, p.Virtual, p.SoldIndividually,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create product: %w", err)
	}
	return id, nil
}

// SaveDonationMeta сохраняет сумму по умолчанию и шаг суммы товара-пожертвования.
// Пустая сумма по умолчанию сохраняется как NULL.
func (r *PostgresRepository) SaveDonationMeta(ctx context.Context, id int64, defaultAmount *decimal.Decimal, increment decimal.Decimal) error {
	var price *string
	if defaultAmount != nil {
		v := defaultAmount.String()
		price = &v
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET regular_price = $2::text::numeric, amount_increment = $3::text::numeric WHERE id = $1`,
		id, price, increment.StringFixed(2),
	)
	if err != nil {
		return fmt.Errorf("update product meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// GetSession загружает сессию корзины.
func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM cart_sessions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess := model.NewSession(id)
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.ID = id

	return sess, nil
}

// SaveSession сохраняет сессию корзины.
func (r *PostgresRepository) SaveSession(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO cart_sessions (id, data, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
			sess.ID, data, sess.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
}

// CreateOrder сохраняет заказ и возвращает его с присвоенным идентификатором и датой.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order) (*model.Order, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO orders (session_id, billing_first_name, billing_last_name, billing_address_1, billing_postcode, total)
		 VALUES ($1, $2, $3, $4, $5, $6::text::numeric)
		 RETURNING id, created_at`,
		o.SessionID, o.Billing.FirstName, o.Billing.LastName, o.Billing.Address1, o.Billing.Postcode,
		o.Total.StringFixed(2),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	var (
		o     model.Order
		total string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, billing_first_name, billing_last_name, billing_address_1, billing_postcode,
		        total::text, created_at
		 FROM orders WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.SessionID, &o.Billing.FirstName, &o.Billing.LastName, &o.Billing.Address1,
		&o.Billing.Postcode, &total, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	o.CreatedAt = o.CreatedAt.UTC()

	return &o, nil
}

// SetGiftAidFlag записывает флаг Gift Aid заказа.
func (r *PostgresRepository) SetGiftAidFlag(ctx context.Context, orderID int64, value string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO giftaid_declarations (order_id, gift_aid) VALUES ($1, $2)
			 ON CONFLICT (order_id) DO UPDATE SET gift_aid = EXCLUDED.gift_aid`,
			orderID, value,
		)
		if err != nil {
			return fmt.Errorf("set gift aid flag: %w", err)
		}
		return nil
	})
}

// SaveDonationSnapshot записывает снимок платёжных данных заказа и отдельно дату пожертвования.
func (r *PostgresRepository) SaveDonationSnapshot(ctx context.Context, orderID int64, data model.DonationData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode donation data: %w", err)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO giftaid_declarations
			     (order_id, first_name, last_name, house_no, post_code, donation_date, amount, donation_data)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (order_id) DO UPDATE SET
			     first_name = EXCLUDED.first_name,
			     last_name = EXCLUDED.last_name,
			     house_no = EXCLUDED.house_no,
			     post_code = EXCLUDED.post_code,
			     donation_date = EXCLUDED.donation_date,
			     amount = EXCLUDED.amount,
			     donation_data = EXCLUDED.donation_data`,
			orderID, data.FirstName, data.LastName, data.HouseNo, data.PostCode, data.Date, data.Amount, raw,
		)
		if err != nil {
			return fmt.Errorf("save donation snapshot: %w", err)
		}
		return nil
	})
}

// ListClaimCandidates возвращает декларации с флагом "1" и полным снимком,
// упорядоченные по дате пожертвования.
func (r *PostgresRepository) ListClaimCandidates(ctx context.Context) ([]model.GiftAidDeclaration, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, gift_aid, first_name, last_name, house_no, post_code, donation_date, amount
		 FROM giftaid_declarations
		 WHERE gift_aid = $1
		   AND first_name IS NOT NULL
		   AND last_name IS NOT NULL
		   AND house_no IS NOT NULL
		   AND post_code IS NOT NULL
		   AND donation_date IS NOT NULL
		   AND amount IS NOT NULL
		 ORDER BY donation_date`,
		model.GiftAidFlagEligible,
	)
	if err != nil {
		return nil, fmt.Errorf("select claims: %w", err)
	}
	defer rows.Close()

	var res []model.GiftAidDeclaration
	for rows.Next() {
		var d model.GiftAidDeclaration
		if err := rows.Scan(&d.OrderID, &d.Flag, &d.FirstName, &d.LastName, &d.HouseNo,
			&d.PostCode, &d.DonationDate, &d.Amount); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		res = append(res, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// MarkClaimed переводит декларации указанных заказов в состояние "claimed".
func (r *PostgresRepository) MarkClaimed(ctx context.Context, orderIDs []int64) error {
	if len(orderIDs) == 0 {
		return nil
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE giftaid_declarations SET gift_aid = $2 WHERE order_id = ANY($1) AND gift_aid = $3`,
			orderIDs, model.GiftAidFlagClaimed, model.GiftAidFlagEligible,
		)
		if err != nil {
			return fmt.Errorf("mark claimed: %w", err)
		}
		return nil
	})
}

// GetSettings возвращает настройки Gift Aid.
func (r *PostgresRepository) GetSettings(ctx context.Context) (*model.Settings, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("select settings: %w", err)
	}
	defer rows.Close()

	var s model.Settings
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		switch key {
		case settingDonationProductID:
			s.DonationProductID, _ = strconv.ParseInt(value, 10, 64)
		case settingCharityName:
			s.CharityName = value
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &s, nil
}

// SaveSettings сохраняет настройки Gift Aid. Если overwrite равен false,
// уже сохранённые значения не меняются.
func (r *PostgresRepository) SaveSettings(ctx context.Context, s model.Settings, overwrite bool) error {
	query := `INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`
	if overwrite {
		query = `INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	values := map[string]string{
		settingDonationProductID: strconv.FormatInt(s.DonationProductID, 10),
		settingCharityName:       s.CharityName,
	}
	for k, v := range values {
		if _, err := tx.Exec(ctx, query, k, v); err != nil {
			return fmt.Errorf("save setting %s: %w", k, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
