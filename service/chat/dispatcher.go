package chat

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// FailureHook is told about every recipient a delivery could not reach.
type FailureHook func(roomID, userID int64, err error)

type DispatchStats struct {
	Broadcasts int64 `json:"broadcasts"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
}

// Dispatcher fans envelopes out to the connections of a room.
//
// 每个信封只序列化一次；投递只是入队，真正的写由各连接自己的写协程并发完成，
// 单个慢/坏连接不会拖住其它接收方。
type Dispatcher struct {
	reg       *Registry
	log       *zap.Logger
	onFailure FailureHook

	broadcasts atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
}

func NewDispatcher(reg *Registry, log *zap.Logger, hook FailureHook) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{reg: reg, log: log, onFailure: hook}
}

// Broadcast delivers env to every member of the room.
func (d *Dispatcher) Broadcast(roomID int64, env Envelope) {
	d.broadcast(roomID, env, 0, false)
}

// BroadcastExcept delivers env to every member of the room except userID.
func (d *Dispatcher) BroadcastExcept(roomID int64, env Envelope, userID int64) {
	d.broadcast(roomID, env, userID, true)
}

func (d *Dispatcher) broadcast(roomID int64, env Envelope, exclude int64, hasExclude bool) {
	payload, ok := d.encode(env)
	if !ok {
		return
	}
	d.broadcasts.Add(1)
	for _, m := range d.reg.Snapshot(roomID) {
		if hasExclude && m.UserID == exclude {
			continue
		}
		d.deliver(roomID, m.UserID, m.Conn, payload)
	}
}

// SendTo delivers env to the user's current connection in the room; absent users are skipped.
func (d *Dispatcher) SendTo(roomID, userID int64, env Envelope) {
	conn, ok := d.reg.Lookup(roomID, userID)
	if !ok {
		return
	}
	d.SendConn(roomID, userID, conn, env)
}

// SendConn delivers env to one specific connection, registered or not.
func (d *Dispatcher) SendConn(roomID, userID int64, conn Conn, env Envelope) {
	payload, ok := d.encode(env)
	if !ok {
		return
	}
	d.deliver(roomID, userID, conn, payload)
}

func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Broadcasts: d.broadcasts.Load(),
		Delivered:  d.delivered.Load(),
		Failed:     d.failed.Load(),
	}
}

func (d *Dispatcher) encode(env Envelope) ([]byte, bool) {
	payload, err := Encode(env)
	if err != nil {
		d.log.Error("encode envelope failed", zap.String("type", string(env.Kind())), zap.Error(err))
		return nil, false
	}
	return payload, true
}

func (d *Dispatcher) deliver(roomID, userID int64, conn Conn, payload []byte) {
	if err := conn.Send(payload); err != nil {
		d.failed.Add(1)
		d.log.Debug("deliver failed",
			zap.Int64("room", roomID), zap.Int64("user", userID),
			zap.String("conn", conn.ID()), zap.Error(err))
		if d.onFailure != nil {
			d.onFailure(roomID, userID, err)
		}
		return
	}
	d.delivered.Add(1)
}
