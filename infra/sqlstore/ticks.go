package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"

	"github.com/Rizwan-Beg/fxharry/domain/market"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/Rizwan-Beg/fxharry/service/simulator"
	"github.com/cockroachdb/errors"
)

func encodeQuotes(qs []orderbook.Quote) (string, error) {
	if len(qs) == 0 {
		return "", nil
	}
	b, err := json.Marshal(qs)
	return string(b), errors.Wrap(err, "encode quotes")
}

func decodeQuotes(s string) ([]orderbook.Quote, error) {
	if s == "" {
		return nil, nil
	}
	var qs []orderbook.Quote
	return qs, errors.Wrap(json.Unmarshal([]byte(s), &qs), "decode quotes")
}

// SaveTicks records ticks in one transaction.
func (s *Store) SaveTicks(ctx context.Context, ticks ...market.Tick) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO ticks (symbol, ts, price, bids, asks) VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return errors.Wrap(err, "prepare tick insert")
	}
	defer stmt.Close()

	for _, t := range ticks {
		bids, err := encodeQuotes(t.Bids)
		if err != nil {
			return err
		}
		asks, err := encodeQuotes(t.Asks)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, t.Symbol, t.Time, t.Price, bids, asks); err != nil {
			return errors.Wrapf(err, "insert tick %s@%d", t.Symbol, t.Time)
		}
	}
	return errors.Wrap(tx.Commit(), "commit ticks")
}

// TickCursor reads ticks in time order a page at a time. It is a
// simulator.TickSource.
type TickCursor struct {
	store    *Store
	from, to int64
	page     int

	buf    []market.Tick
	lastTS int64
	lastID int64
	first  bool
	done   bool
}

// Ticks streams ticks with from <= ts < to; to <= 0 means no upper bound.
func (s *Store) Ticks(from, to int64, page int) *TickCursor {
	if page <= 0 {
		page = 1024
	}
	return &TickCursor{store: s, from: from, to: to, page: page, first: true}
}

func (c *TickCursor) Next(ctx context.Context) (simulator.Event, error) {
	if len(c.buf) == 0 {
		if c.done {
			return simulator.Event{}, io.EOF
		}
		if err := c.fill(ctx); err != nil {
			return simulator.Event{}, err
		}
		if len(c.buf) == 0 {
			return simulator.Event{}, io.EOF
		}
	}
	t := c.buf[0]
	c.buf = c.buf[1:]
	return simulator.TickEvent(t), nil
}

func (c *TickCursor) fill(ctx context.Context) error {
	q := `SELECT id, symbol, ts, price, bids, asks FROM ticks WHERE `
	var args []any
	if c.first {
		q += `ts >= ?`
		args = append(args, c.from)
	} else {
		q += `(ts > ? OR (ts = ? AND id > ?))`
		args = append(args, c.lastTS, c.lastTS, c.lastID)
	}
	if c.to > 0 {
		q += ` AND ts < ?`
		args = append(args, c.to)
	}
	q += ` ORDER BY ts, id LIMIT ?`
	args = append(args, c.page)

	rows, err := c.store.db.QueryContext(ctx, c.store.rebind(q), args...)
	if err != nil {
		return errors.Wrap(err, "query ticks")
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			t          market.Tick
			id         int64
			bids, asks sql.NullString
		)
		if err := rows.Scan(&id, &t.Symbol, &t.Time, &t.Price, &bids, &asks); err != nil {
			return errors.Wrap(err, "scan tick")
		}
		if t.Bids, err = decodeQuotes(bids.String); err != nil {
			return err
		}
		if t.Asks, err = decodeQuotes(asks.String); err != nil {
			return err
		}
		c.buf = append(c.buf, t)
		c.lastTS, c.lastID = t.Time, id
		n++
	}
	c.first = false
	if n < c.page {
		c.done = true
	}
	return errors.Wrap(rows.Err(), "iterate ticks")
}
