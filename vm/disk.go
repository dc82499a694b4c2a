package vm

import (
	"database/sql"
	"fmt"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// DiskStore: SQLite-backed sector storage for the disk interrupts
// ---------------------------------------------------------------------------

// SectorSize is the size of one disk sector in bytes.
const SectorSize = 512

// DiskStore persists the machine's disk image as fixed-size sectors in a
// SQLite database. Sectors that were never written read back as zeroes,
// so a fresh store behaves like a blank disk.
type DiskStore struct {
	db   *sql.DB
	path string
	log  commonlog.Logger
}

// OpenDiskStore opens (or creates) a disk image at the given path.
func OpenDiskStore(path string) (*DiskStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vm: opening disk image %s: %w", path, err)
	}

	// Keep concurrent attach tools (inspectors, backup) from failing
	// immediately on a locked database.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("vm: setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sectors (
		idx  INTEGER PRIMARY KEY,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vm: creating sectors table: %w", err)
	}

	return &DiskStore{
		db:   db,
		path: path,
		log:  commonlog.GetLogger("magma.disk"),
	}, nil
}

// Close closes the underlying database.
func (d *DiskStore) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Path returns the disk image path.
func (d *DiskStore) Path() string {
	return d.path
}

// ReadSector returns the contents of one sector, always exactly
// SectorSize bytes. Missing sectors read as zeroes.
func (d *DiskStore) ReadSector(idx uint64) ([]byte, error) {
	var data []byte
	err := d.db.QueryRow("SELECT data FROM sectors WHERE idx = ?", int64(idx)).Scan(&data)
	if err == sql.ErrNoRows {
		return make([]byte, SectorSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("vm: reading sector %d: %w", idx, err)
	}
	if len(data) != SectorSize {
		return nil, fmt.Errorf("vm: sector %d has corrupt length %d", idx, len(data))
	}
	return data, nil
}

// WriteSector stores one sector. Short data is zero-padded; long data is
// rejected.
func (d *DiskStore) WriteSector(idx uint64, data []byte) error {
	if len(data) > SectorSize {
		return fmt.Errorf("vm: sector write of %d bytes exceeds sector size %d", len(data), SectorSize)
	}
	sector := make([]byte, SectorSize)
	copy(sector, data)

	_, err := d.db.Exec(
		"INSERT OR REPLACE INTO sectors (idx, data) VALUES (?, ?)",
		int64(idx), sector,
	)
	if err != nil {
		return fmt.Errorf("vm: writing sector %d: %w", idx, err)
	}
	return nil
}

// SectorCount returns the number of sectors ever written.
func (d *DiskStore) SectorCount() (int64, error) {
	var n int64
	if err := d.db.QueryRow("SELECT COUNT(*) FROM sectors").Scan(&n); err != nil {
		return 0, fmt.Errorf("vm: counting sectors: %w", err)
	}
	return n, nil
}
