package itemdb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/raidscope/raidscope/internal/entity"
)

// DefaultCacheSize is the number of templates kept in the lookup cache.
const DefaultCacheSize = 4096

// Item is one catalog row.
type Item struct {
	TemplateID string    `json:"template_id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type cached struct {
	desc  entity.Description
	found bool
}

// Catalog serves template descriptions from the database. Misses are
// cached too, so an unknown template costs one query per cache lifetime.
type Catalog struct {
	db     *Database
	cache  *lru.Cache[string, cached]
	logger zerolog.Logger
}

var _ entity.Describer = (*Catalog)(nil)

// Open opens the catalog at dbPath and migrates the schema.
func Open(dbPath string, cacheSize int) (*Catalog, error) {
	database, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	c, err := New(database, cacheSize)
	if err != nil {
		database.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an open database.
func New(database *Database, cacheSize int) (*Catalog, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, cached](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create item cache: %w", err)
	}
	c := &Catalog{
		db:     database,
		cache:  cache,
		logger: log.With().Str("component", "itemdb").Logger(),
	}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate item database: %w", err)
	}
	return c, nil
}

func (c *Catalog) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS items (
			template_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			price INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_items_name ON items(name);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	c.logger.Debug().Msg("item schema migrated")
	return nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Describe implements entity.Describer.
func (c *Catalog) Describe(templateID string) (entity.Description, bool) {
	if v, ok := c.cache.Get(templateID); ok {
		return v.desc, v.found
	}
	it, err := c.Get(templateID)
	switch {
	case err == nil:
		d := entity.Description{Name: it.Name, Price: it.Price}
		c.cache.Add(templateID, cached{desc: d, found: true})
		return d, true
	case errors.Is(err, sql.ErrNoRows):
		c.cache.Add(templateID, cached{})
	default:
		c.logger.Warn().Err(err).Str("template", templateID).Msg("Item lookup failed")
	}
	return entity.Description{}, false
}

// Get reads one row. It returns sql.ErrNoRows for an unknown template.
func (c *Catalog) Get(templateID string) (Item, error) {
	var it Item
	err := c.db.QueryRow(
		"SELECT template_id, name, price, updated_at FROM items WHERE template_id = ?",
		templateID,
	).Scan(&it.TemplateID, &it.Name, &it.Price, &it.UpdatedAt)
	return it, err
}

// Upsert inserts or replaces items and invalidates the cache.
func (c *Catalog) Upsert(items ...Item) error {
	err := c.db.Transaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO items (template_id, name, price, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(template_id) DO UPDATE SET
				name = excluded.name, price = excluded.price, updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		now := time.Now().UTC()
		for _, it := range items {
			if len(it.TemplateID) != entity.IDLen {
				return fmt.Errorf("template %q: %w", it.TemplateID, entity.ErrBadID)
			}
			if _, err := stmt.Exec(it.TemplateID, it.Name, it.Price, now); err != nil {
				return fmt.Errorf("upsert %s: %w", it.TemplateID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.cache.Purge()
	return nil
}

// SetPrice updates the price of a known template.
func (c *Catalog) SetPrice(templateID string, price int64) error {
	res, err := c.db.Exec("UPDATE items SET price = ?, updated_at = ? WHERE template_id = ?",
		price, time.Now().UTC(), templateID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", templateID, sql.ErrNoRows)
	}
	c.cache.Remove(templateID)
	return nil
}

// Search returns up to limit items whose name contains q, most valuable
// first.
func (c *Catalog) Search(q string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.Query(
		"SELECT template_id, name, price, updated_at FROM items WHERE name LIKE ? ORDER BY price DESC, name LIMIT ?",
		"%"+q+"%", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.TemplateID, &it.Name, &it.Price, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (c *Catalog) Count() (int, error) {
	var n int
	err := c.db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n)
	return n, err
}

// itemFile is the subset of an item dump entry that is read.
type itemFile struct {
	ID   string `json:"_id"`
	Name string `json:"_name"`
}

type priceFile struct {
	Price int64 `json:"Price"`
}

// ImportDir loads an item dump laid out as items/<template>.json (with a
// _name field) and templates/items/<template>.json (with a Price field).
// A missing price file means price 0. It returns the number of items
// imported.
func (c *Catalog) ImportDir(dir string) (int, error) {
	itemsDir := filepath.Join(dir, "items")
	pricesDir := filepath.Join(dir, "templates", "items")

	entries, err := os.ReadDir(itemsDir)
	if err != nil {
		return 0, fmt.Errorf("read item dump: %w", err)
	}

	var batch []Item
	skipped := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		tpl := strings.TrimSuffix(e.Name(), ".json")
		if len(tpl) != entity.IDLen {
			skipped++
			continue
		}

		var f itemFile
		if err := readJSON(filepath.Join(itemsDir, e.Name()), &f); err != nil {
			c.logger.Warn().Err(err).Str("template", tpl).Msg("Item file skipped")
			skipped++
			continue
		}
		it := Item{TemplateID: tpl, Name: f.Name}

		var pf priceFile
		if err := readJSON(filepath.Join(pricesDir, e.Name()), &pf); err == nil {
			it.Price = pf.Price
		} else if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str("template", tpl).Msg("Price file unreadable")
		}
		batch = append(batch, it)
	}

	if err := c.Upsert(batch...); err != nil {
		return 0, err
	}
	c.logger.Info().
		Str("dir", dir).
		Int("imported", len(batch)).
		Int("skipped", skipped).
		Msg("Item dump imported")
	return len(batch), nil
}

func readJSON(p string, v interface{}) error {
	raw, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(p), err)
	}
	return nil
}
