// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/parking-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrUserExists возвращается при попытке создать пользователя с занятым именем.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrCustomerExists возвращается, если у пользователя уже есть клиент.
	ErrCustomerExists = errors.New("customer already registered for user")
	// ErrCPFExists возвращается при попытке зарегистрировать уже занятый CPF.
	ErrCPFExists = errors.New("cpf already registered")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrSlotCodeExists возвращается при попытке создать место с занятым кодом.
	ErrSlotCodeExists = errors.New("slot code already registered")
	// ErrSlotNotFound возвращается, если парковочное место не найдено.
	ErrSlotNotFound = errors.New("parking slot not found")
	// ErrNoAvailableSlot возвращается, если свободных мест нет.
	ErrNoAvailableSlot = errors.New("no available parking slot")
	// ErrSessionNotFound возвращается, если открытая сессия по квитанции не найдена.
	ErrSessionNotFound = errors.New("parking session not found")
)

const sessionColumns = `ps.id, ps.receipt, ps.car_plate, ps.car_brand, ps.car_model, ps.car_color,
	 ps.check_in, ps.checkout, ps.price_cents, ps.discount_cents, c.cpf, sl.code`

const sessionFrom = `FROM parking_sessions ps
	 JOIN customers c ON c.id = ps.customer_id
	 JOIN parking_slots sl ON sl.id = ps.slot_id`

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

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, username, passwordHash string, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		username, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByUsername возвращает пользователя по имени учётной записи.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1`,
		username,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u    model.User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// UpdateUserPassword обновляет хэш пароля пользователя.
func (r *PostgresRepository) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListUsers возвращает всех пользователей.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var (
			u    model.User
			role string
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = model.Role(role)
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// CreateCustomer создаёт клиента, привязанного к пользователю.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, name, cpf string, userID int64) (*model.Customer, error) {
	var c model.Customer
	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (name, cpf, user_id) VALUES ($1, $2, $3) RETURNING id, created_at`,
		name, cpf, userID,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == "customers_user_id_key" {
				return nil, fmt.Errorf("%w: user %d", ErrCustomerExists, userID)
			}
			return nil, fmt.Errorf("%w: %s", ErrCPFExists, cpf)
		}
		return nil, fmt.Errorf("create customer: %w", err)
	}

	c.Name = name
	c.CPF = cpf
	c.UserID = userID
	return &c, nil
}

// GetCustomerByID возвращает клиента по идентификатору.
func (r *PostgresRepository) GetCustomerByID(ctx context.Context, id int64) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, cpf, user_id, created_at FROM customers WHERE id = $1`,
		id,
	)
	return scanCustomer(row)
}

// GetCustomerByCPF возвращает клиента по CPF.
func (r *PostgresRepository) GetCustomerByCPF(ctx context.Context, cpf string) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, cpf, user_id, created_at FROM customers WHERE cpf = $1`,
		cpf,
	)
	return scanCustomer(row)
}

// GetCustomerByUserID возвращает клиента, привязанного к пользователю.
func (r *PostgresRepository) GetCustomerByUserID(ctx context.Context, userID int64) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, cpf, user_id, created_at FROM customers WHERE user_id = $1`,
		userID,
	)
	return scanCustomer(row)
}

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.CPF, &c.UserID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

// ListCustomers возвращает страницу клиентов и их общее количество.
func (r *PostgresRepository) ListCustomers(ctx context.Context, limit, offset int) ([]model.Customer, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count customers: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, cpf, user_id, created_at FROM customers ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var customers []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.CPF, &c.UserID, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return customers, total, nil
}

// CreateSlot создаёт парковочное место.
func (r *PostgresRepository) CreateSlot(ctx context.Context, code string, status model.SlotStatus) (*model.ParkingSlot, error) {
	var s model.ParkingSlot
	err := r.pool.QueryRow(ctx,
		`INSERT INTO parking_slots (code, status) VALUES ($1, $2) RETURNING id, created_at`,
		code, string(status),
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrSlotCodeExists, code)
		}
		return nil, fmt.Errorf("create slot: %w", err)
	}

	s.Code = code
	s.Status = status
	return &s, nil
}

// GetSlotByCode возвращает парковочное место по коду.
func (r *PostgresRepository) GetSlotByCode(ctx context.Context, code string) (*model.ParkingSlot, error) {
	var (
		s      model.ParkingSlot
		status string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, status, created_at FROM parking_slots WHERE code = $1`,
		code,
	).Scan(&s.ID, &s.Code, &status, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	s.Status = model.SlotStatus(status)
	return &s, nil
}

// CreateSession резервирует свободное место и создаёт открытую сессию в одной
// транзакции. Блокировка FOR UPDATE SKIP LOCKED исключает выдачу одного места
// двум параллельным заездам: обе записи либо фиксируются вместе, либо никак.
func (r *PostgresRepository) CreateSession(ctx context.Context, customer *model.Customer, vehicle model.Vehicle, receipt string, checkIn time.Time) (*model.ParkingSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		slotID   int64
		slotCode string
	)
	err = tx.QueryRow(ctx,
		`SELECT id, code FROM parking_slots
		 WHERE status = $1
		 ORDER BY id
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		string(model.SlotStatusAvailable),
	).Scan(&slotID, &slotCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoAvailableSlot
		}
		return nil, fmt.Errorf("select available slot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE parking_slots SET status = $2 WHERE id = $1`,
		slotID, string(model.SlotStatusUnavailable),
	)
	if err != nil {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}

	var sessionID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO parking_sessions
		 (receipt, car_plate, car_brand, car_model, car_color, check_in, customer_id, slot_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		receipt, vehicle.Plate, vehicle.Brand, vehicle.Model, vehicle.Color, checkIn, customer.ID, slotID,
	).Scan(&sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &model.ParkingSession{
		ID:          sessionID,
		Receipt:     receipt,
		Vehicle:     vehicle,
		CheckIn:     checkIn,
		CustomerCPF: customer.CPF,
		SlotCode:    slotCode,
	}, nil
}

// GetOpenSessionByReceipt возвращает открытую сессию по квитанции. Квитанция
// уже закрытой сессии считается не найденной.
func (r *PostgresRepository) GetOpenSessionByReceipt(ctx context.Context, receipt string) (*model.ParkingSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` `+sessionFrom+`
		 WHERE ps.receipt = $1 AND ps.checkout IS NULL`,
		receipt,
	)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get open session: %w", err)
	}
	return s, nil
}

// CountClosedSessionsByCPF возвращает число завершённых сессий клиента.
func (r *PostgresRepository) CountClosedSessionsByCPF(ctx context.Context, cpf string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM parking_sessions ps
		 JOIN customers c ON c.id = ps.customer_id
		 WHERE c.cpf = $1 AND ps.checkout IS NOT NULL`,
		cpf,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count closed sessions: %w", err)
	}
	return count, nil
}

// CloseSession закрывает открытую сессию и освобождает место в одной
// транзакции. Условие checkout IS NULL защищает от двойного закрытия:
// повторный вызов не находит строку и возвращает ErrSessionNotFound.
func (r *PostgresRepository) CloseSession(ctx context.Context, receipt string, checkout time.Time, priceCents, discountCents int64) (*model.ParkingSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var slotID int64
	err = tx.QueryRow(ctx,
		`UPDATE parking_sessions
		 SET checkout = $2, price_cents = $3, discount_cents = $4
		 WHERE receipt = $1 AND checkout IS NULL
		 RETURNING slot_id`,
		receipt, checkout, priceCents, discountCents,
	).Scan(&slotID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("close session: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE parking_slots SET status = $2 WHERE id = $1`,
		slotID, string(model.SlotStatusAvailable),
	)
	if err != nil {
		return nil, fmt.Errorf("release slot: %w", err)
	}

	row := tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` `+sessionFrom+`
		 WHERE ps.receipt = $1`,
		receipt,
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("select closed session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return s, nil
}

// ListSessionsByCPF возвращает страницу сессий клиента и их общее количество.
func (r *PostgresRepository) ListSessionsByCPF(ctx context.Context, cpf string, limit, offset int) ([]model.ParkingSession, int64, error) {
	return r.listSessions(ctx, `c.cpf = $1`, cpf, limit, offset)
}

// ListSessionsByUserID возвращает страницу сессий клиента, привязанного к пользователю.
func (r *PostgresRepository) ListSessionsByUserID(ctx context.Context, userID int64, limit, offset int) ([]model.ParkingSession, int64, error) {
	return r.listSessions(ctx, `c.user_id = $1`, userID, limit, offset)
}

func (r *PostgresRepository) listSessions(ctx context.Context, filter string, arg any, limit, offset int) ([]model.ParkingSession, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM parking_sessions ps
		 JOIN customers c ON c.id = ps.customer_id
		 WHERE `+filter,
		arg,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` `+sessionFrom+`
		 WHERE `+filter+`
		 ORDER BY ps.check_in
		 LIMIT $2 OFFSET $3`,
		arg, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.ParkingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return sessions, total, nil
}

func scanSession(row pgx.Row) (*model.ParkingSession, error) {
	var (
		s             model.ParkingSession
		checkout      *time.Time
		priceCents    *int64
		discountCents *int64
	)
	err := row.Scan(
		&s.ID, &s.Receipt,
		&s.Vehicle.Plate, &s.Vehicle.Brand, &s.Vehicle.Model, &s.Vehicle.Color,
		&s.CheckIn, &checkout, &priceCents, &discountCents,
		&s.CustomerCPF, &s.SlotCode,
	)
	if err != nil {
		return nil, err
	}

	s.Checkout = checkout
	if priceCents != nil {
		v := decimal.New(*priceCents, -2)
		s.Price = &v
	}
	if discountCents != nil {
		v := decimal.New(*discountCents, -2)
		s.Discount = &v
	}

	return &s, nil
}
