package sqlstore

import (
	"context"
	"database/sql"

	"github.com/Rizwan-Beg/fxharry/domain/events"
	"github.com/Rizwan-Beg/fxharry/domain/matching"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
)

const insertFill = `INSERT INTO fills
	(run_id, seq, symbol, order_id, counter_order_id, side, price, exec_price, qty, ts)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) PublishFill(ctx context.Context, f matching.Fill) error {
	_, err := s.db.ExecContext(ctx, s.rebind(insertFill),
		"", int64(f.Seq), f.Symbol, int64(f.OrderID), int64(f.CounterOrderID),
		int(f.Side), f.Price, f.ExecPrice, f.Qty, f.Time)
	return errors.Wrapf(err, "archive fill %d", f.Seq)
}

func (s *Store) PublishTransition(ctx context.Context, t events.Transition) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO transitions
		(order_id, symbol, from_status, to_status, filled, reason, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		int64(t.OrderID), t.Symbol, int(t.From), int(t.To), t.Filled, t.Reason, t.Time)
	return errors.Wrapf(err, "archive transition of %d", t.OrderID)
}

// Fills returns the archived fills of one order, oldest first.
func (s *Store) Fills(ctx context.Context, orderID uint64) ([]matching.Fill, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT
		seq, symbol, order_id, counter_order_id, side, price, exec_price, qty, ts
		FROM fills WHERE order_id = ? ORDER BY id`), int64(orderID))
	if err != nil {
		return nil, errors.Wrap(err, "query fills")
	}
	defer rows.Close()

	return scanFills(rows)
}

// History returns the archived transitions of one order, oldest first.
func (s *Store) History(ctx context.Context, orderID uint64) ([]events.Transition, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT
		order_id, symbol, from_status, to_status, filled, reason, ts
		FROM transitions WHERE order_id = ? ORDER BY id`), int64(orderID))
	if err != nil {
		return nil, errors.Wrap(err, "query transitions")
	}
	defer rows.Close()

	var out []events.Transition
	for rows.Next() {
		var (
			t        events.Transition
			id       int64
			from, to int
		)
		if err := rows.Scan(&id, &t.Symbol, &from, &to, &t.Filled, &t.Reason, &t.Time); err != nil {
			return nil, errors.Wrap(err, "scan transition")
		}
		t.OrderID = uint64(id)
		t.From, t.To = orderbook.Status(from), orderbook.Status(to)
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterate transitions")
}

// RunLog archives the fills of one simulation run. Fills are buffered
// and written in a single transaction by Flush. It satisfies
// simulator.FillLog.
type RunLog struct {
	store *Store
	runID string
	buf   []matching.Fill
}

func (s *Store) RunLog(runID string) *RunLog {
	return &RunLog{store: s, runID: runID}
}

func (l *RunLog) Append(f matching.Fill) error {
	l.buf = append(l.buf, f)
	return nil
}

func (l *RunLog) Flush() error {
	if len(l.buf) == 0 {
		return nil
	}
	ctx := context.Background()
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, l.store.rebind(insertFill))
	if err != nil {
		return errors.Wrap(err, "prepare fill insert")
	}
	defer stmt.Close()
	for _, f := range l.buf {
		if _, err := stmt.ExecContext(ctx, l.runID, int64(f.Seq), f.Symbol, int64(f.OrderID),
			int64(f.CounterOrderID), int(f.Side), f.Price, f.ExecPrice, f.Qty, f.Time); err != nil {
			return errors.Wrapf(err, "archive fill %d", f.Seq)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit fills")
	}
	l.buf = l.buf[:0]
	return nil
}

// RunFills returns the archived fills of a run in log order.
func (s *Store) RunFills(ctx context.Context, runID string) ([]matching.Fill, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT
		seq, symbol, order_id, counter_order_id, side, price, exec_price, qty, ts
		FROM fills WHERE run_id = ? ORDER BY id`), runID)
	if err != nil {
		return nil, errors.Wrap(err, "query run fills")
	}
	defer rows.Close()

	return scanFills(rows)
}

// ids are stored as BIGINT; synthetic ids use the sign bit.
func scanFills(rows *sql.Rows) ([]matching.Fill, error) {
	var out []matching.Fill
	for rows.Next() {
		var (
			f                matching.Fill
			seq, id, counter int64
			side             int
		)
		if err := rows.Scan(&seq, &f.Symbol, &id, &counter, &side,
			&f.Price, &f.ExecPrice, &f.Qty, &f.Time); err != nil {
			return nil, errors.Wrap(err, "scan fill")
		}
		f.Seq, f.OrderID, f.CounterOrderID = uint64(seq), uint64(id), uint64(counter)
		f.Side = orderbook.Side(side)
		out = append(out, f)
	}
	return out, errors.Wrap(rows.Err(), "iterate fills")
}
