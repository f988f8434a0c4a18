package receipt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zombor/paragon/internal/scanning"
)

// Ledger drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreRecord is a row of the stores table, keyed by tax id
type StoreRecord struct {
	ID            uint    `gorm:"primaryKey"`
	Name          string  `gorm:"not null"`
	City          string  `gorm:"not null"`
	StateOrRegion string
	Street        string  `gorm:"not null"`
	PostalCode    string  `gorm:"not null"`
	TaxID         *string `gorm:"uniqueIndex"`
}

func (StoreRecord) TableName() string { return "stores" }

// ProductRecord is a catalog entry shared by the line items of many receipts
type ProductRecord struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"not null;uniqueIndex:idx_product_identity"`
	GeneralCategory string `gorm:"uniqueIndex:idx_product_identity"`
	SubCategory     string `gorm:"uniqueIndex:idx_product_identity"`
	ProductType     string `gorm:"uniqueIndex:idx_product_identity"`
	UnitOfMeasure   string `gorm:"default:pcs;uniqueIndex:idx_product_identity"`
}

func (ProductRecord) TableName() string { return "products" }

type ReceiptRecord struct {
	ID            uint   `gorm:"primaryKey"`
	StoreID       uint   `gorm:"not null;index"`
	Store         StoreRecord
	ReceiptNumber string  `gorm:"not null;uniqueIndex"`
	Date          string  `gorm:"not null"`
	Time          string  `gorm:"not null"`
	PaymentMethod string  `gorm:"not null"`
	Currency      string  `gorm:"default:PLN"`
	TotalAmount   float64 `gorm:"not null"`
	TotalDiscount float64
	Items         []ItemRecord `gorm:"foreignKey:ReceiptID"`
}

func (ReceiptRecord) TableName() string { return "receipts" }

// ItemRecord is one purchased line. Repeated products get one row each.
type ItemRecord struct {
	ID                     uint `gorm:"primaryKey"`
	ReceiptID              uint `gorm:"not null;index"`
	ProductID              uint `gorm:"not null;index"`
	Product                ProductRecord
	Promotional            bool
	Quantity               float64 `gorm:"not null"`
	UnitPrice              *float64
	TotalPrice             float64 `gorm:"not null"`
	Discount               float64
	TotalPriceWithDiscount float64 `gorm:"not null"`
}

func (ItemRecord) TableName() string { return "receipt_items" }

// FileRecord links a stored artifact to a saved receipt. A path can be saved once,
// so concurrent saves of one image cannot both succeed.
type FileRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Hash       string `gorm:"not null;index"`
	FileName   string `gorm:"not null"`
	FilePath   string `gorm:"not null;uniqueIndex"`
	UploadedAt time.Time
	ReceiptID  uint `gorm:"index"`
}

func (FileRecord) TableName() string { return "files" }

// ExportRow is one line of the spreadsheet export
type ExportRow struct {
	ReceiptID              uint
	ReceiptDate            string
	ReceiptTime            string
	TotalAmount            float64
	PaymentMethod          string
	StoreName              string
	StoreCity              string
	StoreAddress           string
	ProductName            string
	Quantity               float64
	UnitPrice              *float64
	TotalPriceWithDiscount float64
}

// Ledger mirrors confirmed receipts into relational tables
type Ledger interface {
	// SaveReceipt persists a receipt with its files and returns the new receipt id
	SaveReceipt(ctx context.Context, r *scanning.Receipt, files []FileRecord) (uint, error)

	// ExportRows returns one row per line item joined with its receipt and store
	ExportRows(ctx context.Context) ([]ExportRow, error)

	// Close closes the database connection
	Close() error
}

// GormLedger implements the Ledger interface using GORM
type GormLedger struct {
	db *gorm.DB
}

// OpenLedger connects to the configured database and migrates the schema
func OpenLedger(driver, dsn string) (*GormLedger, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "", DriverSQLite:
		db, err = OpenSQLite(dsn)
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return NewGormLedger(db), nil
}

// NewGormLedger wraps an open, migrated database
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates the ledger tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&StoreRecord{},
		&ProductRecord{},
		&ReceiptRecord{},
		&ItemRecord{},
		&FileRecord{},
	)
}

// SaveReceipt writes the receipt, its line items and files in one transaction.
// Conflicts leave the database untouched.
func (l *GormLedger) SaveReceipt(ctx context.Context, r *scanning.Receipt, files []FileRecord) (uint, error) {
	var receiptID uint
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if hashes := fileHashes(files); len(hashes) > 0 {
			var count int64
			if err := tx.Model(&FileRecord{}).Where("hash IN ?", hashes).Count(&count).Error; err != nil {
				return fmt.Errorf("checking files: %w", err)
			}
			if count > 0 {
				return ErrFileExists
			}
		}

		var count int64
		if err := tx.Model(&ReceiptRecord{}).Where("receipt_number = ?", r.ReceiptNumber).Count(&count).Error; err != nil {
			return fmt.Errorf("checking receipt number: %w", err)
		}
		if count > 0 {
			return ErrReceiptExists
		}

		store, err := upsertStore(tx, r.Store)
		if err != nil {
			return err
		}

		rec := &ReceiptRecord{
			StoreID:       store.ID,
			ReceiptNumber: r.ReceiptNumber,
			Date:          r.Date,
			Time:          r.Time,
			PaymentMethod: r.PaymentMethod,
			Currency:      r.Currency,
			TotalAmount:   r.TotalAmount,
			TotalDiscount: r.TotalDiscount,
		}
		if err := tx.Omit("Store", "Items").Create(rec).Error; err != nil {
			if isDuplicate(err) {
				return ErrReceiptExists
			}
			return fmt.Errorf("creating receipt: %w", err)
		}

		for _, p := range r.Products {
			product, err := upsertProduct(tx, p)
			if err != nil {
				return err
			}
			item := &ItemRecord{
				ReceiptID:              rec.ID,
				ProductID:              product.ID,
				Promotional:            p.Promotional,
				Quantity:               p.Quantity,
				UnitPrice:              p.UnitPrice,
				TotalPrice:             p.TotalPrice,
				Discount:               p.Discount,
				TotalPriceWithDiscount: p.TotalPriceWithDiscount,
			}
			if err := tx.Omit("Product").Create(item).Error; err != nil {
				return fmt.Errorf("creating receipt item: %w", err)
			}
		}

		for i := range files {
			files[i].ReceiptID = rec.ID
			if err := tx.Create(&files[i]).Error; err != nil {
				if isDuplicate(err) {
					return ErrFileExists
				}
				return fmt.Errorf("creating file record: %w", err)
			}
		}

		receiptID = rec.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return receiptID, nil
}

func fileHashes(files []FileRecord) []string {
	var hashes []string
	for _, f := range files {
		if !slices.Contains(hashes, f.Hash) {
			hashes = append(hashes, f.Hash)
		}
	}
	return hashes
}

func upsertStore(tx *gorm.DB, s scanning.Store) (*StoreRecord, error) {
	addr := s.PurchaseAddress()
	store := &StoreRecord{
		Name:          s.Name,
		City:          addr.City,
		StateOrRegion: addr.StateOrRegion,
		Street:        addr.Street,
		PostalCode:    addr.PostalCode,
	}

	q := tx
	if s.TaxID != "" {
		taxID := s.TaxID
		store.TaxID = &taxID
		q = q.Where("tax_id = ?", taxID)
	} else {
		q = q.Where("tax_id IS NULL AND name = ? AND street = ? AND postal_code = ?", store.Name, store.Street, store.PostalCode)
	}

	if err := q.FirstOrCreate(store).Error; err != nil {
		return nil, fmt.Errorf("saving store: %w", err)
	}
	return store, nil
}

func upsertProduct(tx *gorm.DB, p scanning.Product) (*ProductRecord, error) {
	product := &ProductRecord{
		Name:            p.Name,
		GeneralCategory: p.Category.GeneralCategory,
		SubCategory:     p.Category.SubCategory,
		ProductType:     p.Category.ProductType,
		UnitOfMeasure:   p.UnitOfMeasure,
	}
	err := tx.Where(map[string]any{
		"name":             product.Name,
		"general_category": product.GeneralCategory,
		"sub_category":     product.SubCategory,
		"product_type":     product.ProductType,
		"unit_of_measure":  product.UnitOfMeasure,
	}).FirstOrCreate(product).Error
	if err != nil {
		return nil, fmt.Errorf("saving product: %w", err)
	}
	return product, nil
}

// ExportRows joins receipts, stores, line items and products
func (l *GormLedger) ExportRows(ctx context.Context) ([]ExportRow, error) {
	var rows []ExportRow
	err := l.db.WithContext(ctx).
		Table("receipt_items AS ri").
		Select(`r.id AS receipt_id,
			r.date AS receipt_date,
			r.time AS receipt_time,
			r.total_amount AS total_amount,
			r.payment_method AS payment_method,
			s.name AS store_name,
			s.city AS store_city,
			s.street AS store_address,
			p.name AS product_name,
			ri.quantity AS quantity,
			ri.unit_price AS unit_price,
			ri.total_price_with_discount AS total_price_with_discount`).
		Joins("JOIN receipts r ON r.id = ri.receipt_id").
		Joins("JOIN stores s ON s.id = r.store_id").
		Joins("JOIN products p ON p.id = ri.product_id").
		Order("r.date DESC, r.id, ri.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying export rows: %w", err)
	}
	return rows, nil
}

// ReceiptByNumber loads a saved receipt with its items
func (l *GormLedger) ReceiptByNumber(ctx context.Context, number string) (*ReceiptRecord, error) {
	var rec ReceiptRecord
	err := l.db.WithContext(ctx).
		Preload("Store").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Items.Product").
		Where("receipt_number = ?", number).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading receipt: %w", err)
	}
	return &rec, nil
}

// Close closes the database connection
func (l *GormLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
