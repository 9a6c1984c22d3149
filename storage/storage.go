package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"kaiden.app/licensing/internal/logger"
	"kaiden.app/licensing/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var ErrCustomerNotFound = errors.New("customer not found")

// Storage records customers and the licenses issued to them. Lookups return
// nil, nil when nothing matches.
type Storage interface {
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	FindCustomerByEmailAddress(ctx context.Context, emailAddress string) (*models.Customer, error)
	FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error)
	SaveCustomer(ctx context.Context, customer *models.Customer) error

	GetLicense(ctx context.Context, id string) (*models.License, error)
	FindLicenseByNonce(ctx context.Context, nonce string) (*models.License, error)
	FindLicenseByStripeSession(ctx context.Context, sessionID string) (*models.License, error)
	FindLicensesByCustomer(ctx context.Context, customerID string) ([]*models.License, error)
	SaveLicense(ctx context.Context, license *models.License) error

	Close() error
}

type MemoryStorage struct {
	mu        sync.RWMutex
	customers map[string]models.Customer
	licenses  map[string]models.License
}

type SQLiteStorage struct {
	db   *sql.DB
	path string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		customers: make(map[string]models.Customer),
		licenses:  make(map[string]models.License),
	}
}

func (m *MemoryStorage) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	customer, exists := m.customers[id]
	if !exists {
		return nil, nil
	}
	return &customer, nil
}

func (m *MemoryStorage) FindCustomerByEmailAddress(ctx context.Context, emailAddress string) (*models.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, customer := range m.customers {
		if customer.Email == emailAddress {
			return &customer, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error) {
	if stripeCustomerID == "" {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, customer := range m.customers {
		if customer.StripeCustomerID == stripeCustomerID {
			return &customer, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) SaveCustomer(ctx context.Context, customer *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.customers[customer.ID] = *customer
	return nil
}

func (m *MemoryStorage) GetLicense(ctx context.Context, id string) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	license, exists := m.licenses[id]
	if !exists {
		return nil, nil
	}
	return &license, nil
}

func (m *MemoryStorage) FindLicenseByNonce(ctx context.Context, nonce string) (*models.License, error) {
	return m.findLicense(func(l models.License) bool { return l.Nonce == nonce })
}

func (m *MemoryStorage) FindLicenseByStripeSession(ctx context.Context, sessionID string) (*models.License, error) {
	if sessionID == "" {
		return nil, nil
	}
	return m.findLicense(func(l models.License) bool { return l.StripeSessionID == sessionID })
}

func (m *MemoryStorage) findLicense(match func(models.License) bool) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, license := range m.licenses {
		if match(license) {
			return &license, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindLicensesByCustomer(ctx context.Context, customerID string) ([]*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var licenses []*models.License
	for _, license := range m.licenses {
		if license.CustomerID == customerID {
			licenseCopy := license
			licenses = append(licenses, &licenseCopy)
		}
	}

	sort.Slice(licenses, func(i, j int) bool {
		return licenses[i].CreatedAt.Before(licenses[j].CreatedAt)
	})
	return licenses, nil
}

func (m *MemoryStorage) SaveLicense(ctx context.Context, license *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.customers[license.CustomerID]; !exists {
		return fmt.Errorf("save license %s: %w", license.ID, ErrCustomerNotFound)
	}

	m.licenses[license.ID] = *license
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps :memory: databases coherent and serializes writers
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{
		db:   db,
		path: path,
	}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

func withForeignKeys(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=on"
	}
	return path + "?_foreign_keys=on"
}

func (s *SQLiteStorage) migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return err
	}

	v, _, _ := m.Version()
	logger.Info("Database migrated", map[string]interface{}{
		"path":    s.path,
		"version": v,
	})
	return nil
}

const customerColumns = `id, email, stripe_customer_id, created_at, updated_at`

const licenseColumns = `id, customer_id, nonce, plan, tier, token, expires_at, stripe_session_id, status, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCustomer(row scanner) (*models.Customer, error) {
	var customer models.Customer
	err := row.Scan(
		&customer.ID,
		&customer.Email,
		&customer.StripeCustomerID,
		&customer.CreatedAt,
		&customer.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func scanLicense(row scanner) (*models.License, error) {
	var license models.License
	err := row.Scan(
		&license.ID,
		&license.CustomerID,
		&license.Nonce,
		&license.Plan,
		&license.Tier,
		&license.Token,
		&license.ExpiresAt,
		&license.StripeSessionID,
		&license.Status,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (s *SQLiteStorage) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = ?`
	return scanCustomer(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStorage) FindCustomerByEmailAddress(ctx context.Context, emailAddress string) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE email = ?`
	return scanCustomer(s.db.QueryRowContext(ctx, query, emailAddress))
}

func (s *SQLiteStorage) FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error) {
	if stripeCustomerID == "" {
		return nil, nil
	}
	query := `SELECT ` + customerColumns + ` FROM customers WHERE stripe_customer_id = ? LIMIT 1`
	return scanCustomer(s.db.QueryRowContext(ctx, query, stripeCustomerID))
}

func (s *SQLiteStorage) SaveCustomer(ctx context.Context, customer *models.Customer) error {
	query := `INSERT INTO customers (` + customerColumns + `) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			stripe_customer_id = excluded.stripe_customer_id,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		customer.ID,
		customer.Email,
		customer.StripeCustomerID,
		customer.CreatedAt.UTC(),
		customer.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetLicense(ctx context.Context, id string) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = ?`
	return scanLicense(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLiteStorage) FindLicenseByNonce(ctx context.Context, nonce string) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE nonce = ?`
	return scanLicense(s.db.QueryRowContext(ctx, query, nonce))
}

func (s *SQLiteStorage) FindLicenseByStripeSession(ctx context.Context, sessionID string) (*models.License, error) {
	if sessionID == "" {
		return nil, nil
	}
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE stripe_session_id = ? LIMIT 1`
	return scanLicense(s.db.QueryRowContext(ctx, query, sessionID))
}

func (s *SQLiteStorage) FindLicensesByCustomer(ctx context.Context, customerID string) ([]*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE customer_id = ? ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warn("Failed to close rows", map[string]interface{}{"error": err.Error()})
		}
	}()

	var licenses []*models.License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, license)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating licenses: %w", err)
	}

	return licenses, nil
}

func (s *SQLiteStorage) SaveLicense(ctx context.Context, license *models.License) error {
	customer, err := s.GetCustomer(ctx, license.CustomerID)
	if err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	if customer == nil {
		return fmt.Errorf("save license %s: %w", license.ID, ErrCustomerNotFound)
	}

	query := `INSERT INTO licenses (` + licenseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier = excluded.tier,
			status = excluded.status,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		license.ID,
		license.CustomerID,
		license.Nonce,
		license.Plan,
		license.Tier,
		license.Token,
		license.ExpiresAt.UTC(),
		license.StripeSessionID,
		license.Status,
		license.CreatedAt.UTC(),
		license.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
