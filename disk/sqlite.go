package disk

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"

	// Pure-Go SQLite driver, registered as "sqlite".
	_ "github.com/glebarez/go-sqlite"

	"github.com/sarchlab/kcore/mem/bcache"
)

// SQLite keeps disk images in a SQLite database, one row per block.
// Blocks never written read as zeros.
type SQLite struct {
	db        *sql.DB
	path      string
	blockSize int

	read, write *sql.Stmt

	reads, writes atomic.Uint64
}

// OpenSQLite opens, and creates if needed, the disk image database at path.
func OpenSQLite(path string, blockSize int) (*SQLite, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Disk image %s created.\n", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	d := &SQLite{db: db, path: path, blockSize: blockSize}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

func (d *SQLite) init() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS blocks (
			dev     INTEGER NOT NULL,
			blockno INTEGER NOT NULL,
			data    BLOB NOT NULL,
			PRIMARY KEY (dev, blockno)
		)`)
	if err != nil {
		return fmt.Errorf("disk: create table: %w", err)
	}

	d.read, err = d.db.Prepare(
		`SELECT data FROM blocks WHERE dev = ? AND blockno = ?`)
	if err != nil {
		return err
	}

	d.write, err = d.db.Prepare(
		`INSERT INTO blocks (dev, blockno, data) VALUES (?, ?, ?)
		ON CONFLICT (dev, blockno) DO UPDATE SET data = excluded.data`)

	return err
}

// Path returns the location of the database.
func (d *SQLite) Path() string {
	return d.path
}

// RW moves one block between the buffer and the image.
func (d *SQLite) RW(ctx context.Context, b *bcache.Buf, write bool) error {
	if len(b.Data) != d.blockSize {
		return fmt.Errorf("disk: buffer of %d bytes, block size is %d",
			len(b.Data), d.blockSize)
	}

	if write {
		d.writes.Add(1)

		_, err := d.write.ExecContext(ctx, b.Dev, b.Blockno, b.Data)

		return err
	}

	d.reads.Add(1)

	var data []byte

	err := d.read.QueryRowContext(ctx, b.Dev, b.Blockno).Scan(&data)
	switch {
	case err == sql.ErrNoRows:
		clear(b.Data)
		return nil
	case err != nil:
		return err
	}

	n := copy(b.Data, data)
	clear(b.Data[n:])

	return nil
}

// NumBlocks returns how many blocks have been written to dev.
func (d *SQLite) NumBlocks(ctx context.Context, dev uint32) (int, error) {
	var n int

	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocks WHERE dev = ?`, dev).Scan(&n)

	return n, err
}

// Reads returns the number of block reads served.
func (d *SQLite) Reads() uint64 {
	return d.reads.Load()
}

// Writes returns the number of block writes served.
func (d *SQLite) Writes() uint64 {
	return d.writes.Load()
}

// Close closes the database.
func (d *SQLite) Close() error {
	return d.db.Close()
}
