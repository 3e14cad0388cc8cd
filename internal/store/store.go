package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/creditmart/internal/model"
	"github.com/iurnickita/creditmart/internal/store/config"
)

type Store interface {
	AuthRegister(ctx context.Context, login string, passwordHash string) (string, error)
	AuthLogin(ctx context.Context, login string) (userCode string, passwordHash string, err error)
	ListingAllocate(ctx context.Context) (int64, error)
	ListingGet(ctx context.Context, id int64) (model.Listing, error)
	ListingGetActive(ctx context.Context) ([]model.Listing, error)
	ListingPut(ctx context.Context, listing model.Listing) error
	ListingUpdate(ctx context.Context, prev model.Listing, next model.Listing) error
	BalanceGetActual(ctx context.Context, customer string) (model.Balance, error)
	BalanceGetWithdrawals(ctx context.Context, customer string) ([]model.Balance, error)
	BalanceGetHistory(ctx context.Context, customer string) ([]model.Balance, error)
	BalanceIncrease(ctx context.Context, customer string, reference string, points int64) error
	BalanceDecrease(ctx context.Context, customer string, reference string, points int64) error
	BalanceTransfer(ctx context.Context, from string, to string, reference string, points int64) error
	Close() error
}

var (
	ErrNoRows            = errors.New("no rows")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrPointsIncorrect   = errors.New("points value is incorrect")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrConflict          = errors.New("listing changed concurrently")
)

// Код ошибки Postgres: нарушение уникальности
const pgUniqueViolation = "23505"

// NewStore открывает хранилище Postgres, а при пустом DSN - хранилище в памяти
func NewStore(cfg config.Config) (Store, error) {
	if cfg.DBDsn == "" {
		return NewMemStore(), nil
	}

	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица учетных записей
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS auth (" +
			" login VARCHAR (64) PRIMARY KEY," +
			" uuid SERIAL UNIQUE," +
			" password VARCHAR (72) NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица баланса пользователя
	// Представляет собой журнал. Для каждой новой операции пользователя создается новая запись
	// с итоговым балансом, так легче отслеживать историю и выявлять ошибки
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS balance (" +
			" customer VARCHAR (20)," +
			" operation BIGSERIAL," +
			" kind VARCHAR (10) NOT NULL," +
			" timestamp TIMESTAMP NOT NULL," +
			" difference BIGINT NOT NULL," +
			" balance BIGINT NOT NULL," +
			" withdrawn BIGINT NOT NULL," +
			" reference VARCHAR (64) NOT NULL," +
			" PRIMARY KEY (customer, operation)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица лотов.
	// Номера выдаются последовательностью и не переиспользуются, строки не удаляются
	_, err = db.Exec("CREATE SEQUENCE IF NOT EXISTS listing_id_seq START 1;")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS listing (" +
			" id BIGINT PRIMARY KEY," +
			" owner VARCHAR (20) NOT NULL," +
			" credit_type TEXT NOT NULL," +
			" amount BIGINT NOT NULL CHECK (amount >= 0)," +
			" price_per_unit BIGINT NOT NULL CHECK (price_per_unit > 0)," +
			" is_listed BOOLEAN NOT NULL," +
			" created_at TIMESTAMP NOT NULL," +
			" CHECK (amount > 0 OR NOT is_listed)" +
			" );")
	if err != nil {
		return nil, err
	}

	return &store{
		database: db,
	}, nil
}

type store struct {
	database *sql.DB
}

func (store *store) Close() error {
	return store.database.Close()
}

func (store *store) AuthRegister(ctx context.Context, login string, passwordHash string) (string, error) {
	// Запись нового пользователя
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO auth (login, password)"+
			" VALUES ($1, $2)"+
			" RETURNING uuid",
		login,
		passwordHash)

	// Получение ID пользователя
	var uuid int
	err := row.Scan(&uuid)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", ErrAlreadyExists
		}
		return "", err
	}

	return strconv.Itoa(uuid), nil
}

func (store *store) AuthLogin(ctx context.Context, login string) (string, string, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT uuid, password FROM auth"+
			" WHERE login = $1",
		login)
	var (
		uuid     int
		password string
	)
	err := row.Scan(&uuid, &password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrNoRows
		}
		return "", "", err
	}

	return strconv.Itoa(uuid), password, nil
}

func (store *store) ListingAllocate(ctx context.Context) (int64, error) {
	var id int64
	err := store.database.QueryRowContext(ctx, "SELECT nextval('listing_id_seq')").Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (store *store) ListingGet(ctx context.Context, id int64) (model.Listing, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT id, owner, credit_type, amount, price_per_unit, is_listed, created_at"+
			" FROM listing"+
			" WHERE id = $1",
		id)
	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Listing{}, ErrNotFound
		}
		return model.Listing{}, err
	}
	return listing, nil
}

func (store *store) ListingGetActive(ctx context.Context) ([]model.Listing, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, owner, credit_type, amount, price_per_unit, is_listed, created_at"+
			" FROM listing"+
			" WHERE is_listed"+
			" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, rows.Err()
}

func (store *store) ListingPut(ctx context.Context, listing model.Listing) error {
	// Владелец, тип и цена задаются только при создании лота
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO listing (id, owner, credit_type, amount, price_per_unit, is_listed, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7)"+
			" ON CONFLICT (id) DO UPDATE"+
			" SET amount = EXCLUDED.amount,"+
			"     is_listed = EXCLUDED.is_listed",
		listing.ID,
		listing.Data.Owner,
		listing.Data.CreditType,
		listing.Data.Amount,
		listing.Data.PricePerUnit,
		listing.Data.IsListed,
		listing.Data.CreatedAt)
	return err
}

// ListingUpdate меняет остаток и признак продажи, только если лот в хранилище
// все еще совпадает с prev. Иначе ErrConflict
func (store *store) ListingUpdate(ctx context.Context, prev model.Listing, next model.Listing) error {
	result, err := store.database.ExecContext(ctx,
		"UPDATE listing"+
			" SET amount = $2, is_listed = $3"+
			" WHERE id = $1 AND amount = $4 AND is_listed = $5",
		prev.ID,
		next.Data.Amount,
		next.Data.IsListed,
		prev.Data.Amount,
		prev.Data.IsListed)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err = store.ListingGet(ctx, prev.ID); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (model.Listing, error) {
	var listing model.Listing
	err := row.Scan(&listing.ID,
		&listing.Data.Owner,
		&listing.Data.CreditType,
		&listing.Data.Amount,
		&listing.Data.PricePerUnit,
		&listing.Data.IsListed,
		&listing.Data.CreatedAt)
	return listing, err
}

const balanceColumns = "customer, operation, kind, timestamp, difference, balance, withdrawn, reference"

func scanBalance(row rowScanner) (model.Balance, error) {
	var balanceRow model.Balance
	err := row.Scan(&balanceRow.Key.Customer,
		&balanceRow.Key.Operation,
		&balanceRow.Data.Kind,
		&balanceRow.Data.Timestamp,
		&balanceRow.Data.Difference,
		&balanceRow.Data.Balance,
		&balanceRow.Data.Withdrawn,
		&balanceRow.Data.Reference)
	return balanceRow, err
}

func (store *store) BalanceGetActual(ctx context.Context, customer string) (model.Balance, error) {
	return balanceGetActual(ctx, store.database, customer)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balanceGetActual(ctx context.Context, q querier, customer string) (model.Balance, error) {
	//Получение актуального баланса
	row := q.QueryRowContext(ctx,
		"SELECT "+balanceColumns+
			" FROM balance"+
			" WHERE customer = $1"+
			" ORDER BY operation DESC"+
			" LIMIT 1",
		customer)
	balanceRow, err := scanBalance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) { // если нет строки - нулевой баланс
			return model.Balance{Key: model.BalanceKey{Customer: customer}}, nil
		}
		return model.Balance{}, err
	}
	return balanceRow, nil
}

func (store *store) BalanceGetWithdrawals(ctx context.Context, customer string) ([]model.Balance, error) {
	return store.balanceQuery(ctx,
		"SELECT "+balanceColumns+
			" FROM balance"+
			" WHERE customer = $1"+
			"   AND kind = $2"+
			" ORDER BY operation",
		customer, model.BalanceKindWithdraw)
}

func (store *store) BalanceGetHistory(ctx context.Context, customer string) ([]model.Balance, error) {
	return store.balanceQuery(ctx,
		"SELECT "+balanceColumns+
			" FROM balance"+
			" WHERE customer = $1"+
			" ORDER BY operation",
		customer)
}

func (store *store) balanceQuery(ctx context.Context, query string, args ...any) ([]model.Balance, error) {
	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []model.Balance
	for rows.Next() {
		balanceRow, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, balanceRow)
	}
	return history, rows.Err()
}

func (store *store) BalanceIncrease(ctx context.Context, customer string, reference string, points int64) error {
	if points <= 0 {
		return ErrPointsIncorrect
	}
	return store.balanceTx(ctx, []string{customer}, func(tx *sql.Tx) error {
		return balanceAppend(ctx, tx, customer, model.BalanceKindDeposit, reference, points, 0)
	})
}

func (store *store) BalanceDecrease(ctx context.Context, customer string, reference string, points int64) error {
	if points <= 0 {
		return ErrPointsIncorrect
	}
	return store.balanceTx(ctx, []string{customer}, func(tx *sql.Tx) error {
		return balanceAppend(ctx, tx, customer, model.BalanceKindWithdraw, reference, -points, points)
	})
}

func (store *store) BalanceTransfer(ctx context.Context, from string, to string, reference string, points int64) error {
	if points <= 0 {
		return ErrPointsIncorrect
	}
	return store.balanceTx(ctx, []string{from, to}, func(tx *sql.Tx) error {
		err := balanceAppend(ctx, tx, from, model.BalanceKindTransfer, reference, -points, 0)
		if err != nil {
			return err
		}
		return balanceAppend(ctx, tx, to, model.BalanceKindTransfer, reference, points, 0)
	})
}

// balanceTx выполняет fn в транзакции, удерживая блокировки баланса клиентов.
// Блокировки берутся в отсортированном порядке, чтобы встречные переводы не давали дедлок
func (store *store) balanceTx(ctx context.Context, customers []string, fn func(tx *sql.Tx) error) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sorted := append([]string(nil), customers...)
	sort.Strings(sorted)
	for _, customer := range sorted {
		_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", customer)
		if err != nil {
			return err
		}
	}

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func balanceAppend(ctx context.Context, tx *sql.Tx, customer string, kind string, reference string, difference int64, withdrawn int64) error {
	balanceRow, err := balanceGetActual(ctx, tx, customer)
	if err != nil {
		return err
	}

	next, err := nextBalance(balanceRow.Data, difference, withdrawn)
	if err != nil {
		return err
	}

	//Запись обновленного баланса
	_, err = tx.ExecContext(ctx,
		"INSERT INTO balance (customer, kind, timestamp, difference, balance, withdrawn, reference)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7)",
		customer,
		kind,
		time.Now(),
		difference,
		next.Balance,
		next.Withdrawn,
		reference)
	return err
}

// nextBalance применяет операцию к итогам баланса.
// Отрицательный остаток - ErrInsufficientFunds, выход за пределы int64 - ErrBalanceOverflow
func nextBalance(data model.BalanceData, difference int64, withdrawn int64) (model.BalanceData, error) {
	if difference > 0 && data.Balance > math.MaxInt64-difference {
		return model.BalanceData{}, ErrBalanceOverflow
	}
	if data.Balance+difference < 0 {
		return model.BalanceData{}, ErrInsufficientFunds
	}
	if withdrawn > 0 && data.Withdrawn > math.MaxInt64-withdrawn {
		return model.BalanceData{}, ErrBalanceOverflow
	}

	data.Difference = difference
	data.Balance += difference
	data.Withdrawn += withdrawn
	return data, nil
}
