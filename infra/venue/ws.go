package venue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Rizwan-Beg/fxharry/domain/errs"
	"github.com/Rizwan-Beg/fxharry/domain/orderbook"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wire messages
type request struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	OrderID  uint64 `json:"order_id"`
	Symbol   string `json:"symbol,omitempty"`
	Side     string `json:"side,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Price    int64  `json:"price,omitempty"`
	Qty      int64  `json:"qty,omitempty"`
}

type response struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	OrderID  uint64 `json:"order_id"`
	VenueID  string `json:"venue_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Price    int64  `json:"price,omitempty"`
	Qty      int64  `json:"qty,omitempty"`
	Time     int64  `json:"time,omitempty"`
}

const (
	msgNew    = "new"
	msgCancel = "cancel"
	msgAck    = "ack"
	msgReject = "reject"
	msgExec   = "exec"
)

// WSAdapter speaks a JSON request/response protocol over one websocket.
// Requests are correlated by a client id; unsolicited "exec" messages are
// handed to the execution callback.
type WSAdapter struct {
	conn   *websocket.Conn
	log    *zap.Logger
	onExec func(Execution)

	writeMu sync.Mutex
	mu      sync.Mutex
	waiting map[string]chan response
	closed  chan struct{}
	err     error
}

// Dial connects to url and starts the read loop. onExec may be nil.
func Dial(ctx context.Context, url string, onExec func(Execution), log *zap.Logger) (*WSAdapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial venue %s", url)
	}
	a := &WSAdapter{
		conn:    conn,
		log:     log,
		onExec:  onExec,
		waiting: make(map[string]chan response),
		closed:  make(chan struct{}),
	}
	go a.readLoop()
	log.Info("venue connected", zap.String("url", url))
	return a, nil
}

func (a *WSAdapter) Submit(ctx context.Context, o orderbook.Order) (Ack, error) {
	return a.call(ctx, request{
		Type:    msgNew,
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Side:    o.Side.String(),
		Kind:    o.Type.String(),
		Price:   o.Price,
		Qty:     o.Qty,
	})
}

func (a *WSAdapter) Cancel(ctx context.Context, id uint64) (Ack, error) {
	return a.call(ctx, request{Type: msgCancel, OrderID: id})
}

func (a *WSAdapter) call(ctx context.Context, req request) (Ack, error) {
	req.ClientID = uuid.NewString()
	ch := make(chan response, 1)

	a.mu.Lock()
	if a.err != nil {
		a.mu.Unlock()
		return Ack{}, errors.Wrap(a.err, "venue connection")
	}
	a.waiting[req.ClientID] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiting, req.ClientID)
		a.mu.Unlock()
	}()

	if err := a.write(ctx, req); err != nil {
		return Ack{}, err
	}

	select {
	case resp := <-ch:
		ack := Ack{
			OrderID:  req.OrderID,
			ClientID: req.ClientID,
			VenueID:  resp.VenueID,
			Accepted: resp.Type == msgAck,
			Reason:   resp.Reason,
		}
		return ack, nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Mark(err, errs.ErrVenueTimeout)
		}
		return Ack{OrderID: req.OrderID, ClientID: req.ClientID}, errors.Wrapf(err, "%s order %d", req.Type, req.OrderID)
	case <-a.closed:
		return Ack{}, errors.Wrap(a.closeErr(), "venue connection")
	}
}

func (a *WSAdapter) write(ctx context.Context, req request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "encode venue request")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	dl, _ := ctx.Deadline()
	_ = a.conn.SetWriteDeadline(dl)
	return errors.Wrap(a.conn.WriteMessage(websocket.TextMessage, b), "write venue request")
}

func (a *WSAdapter) readLoop() {
	defer close(a.closed)
	for {
		_, msg, err := a.conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			a.err = err
			a.mu.Unlock()
			a.log.Warn("venue read failed", zap.Error(err))
			return
		}
		var resp response
		if err := json.Unmarshal(msg, &resp); err != nil {
			a.log.Warn("venue sent malformed message", zap.Error(err))
			continue
		}
		if resp.Type == msgExec {
			if a.onExec != nil {
				a.onExec(Execution{OrderID: resp.OrderID, Price: resp.Price, Qty: resp.Qty, Time: resp.Time})
			}
			continue
		}
		a.mu.Lock()
		ch, ok := a.waiting[resp.ClientID]
		a.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (a *WSAdapter) closeErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		return errors.New("closed")
	}
	return a.err
}

func (a *WSAdapter) Close() error {
	a.writeMu.Lock()
	_ = a.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.writeMu.Unlock()
	err := a.conn.Close()
	<-a.closed
	return err
}
