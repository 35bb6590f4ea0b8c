// Package realtime tracks live client connections grouped by sector and
// pushes JSON events to them.
package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Connection is one live client session.
type Connection interface {
	ID() string
	Send(data []byte) error
	IsOpen() bool
	Close() error
}

// ConnectionSendError reports a failed delivery to one connection. It never
// leaves the registry: the connection is dropped instead.
type ConnectionSendError struct {
	ConnID   string
	SectorID int64
	Err      error
}

func (e *ConnectionSendError) Error() string {
	return fmt.Sprintf("send to connection %s (sector %d): %v", e.ConnID, e.SectorID, e.Err)
}

func (e *ConnectionSendError) Unwrap() error { return e.Err }

// Registry groups connections by sector. Each sector has its own concurrent
// set so traffic of unrelated sectors never contends on a shared lock.
type Registry struct {
	groups sync.Map // int64 -> *group
	owners sync.Map // Connection -> int64
	logger *slog.Logger
}

type group struct {
	conns sync.Map // Connection -> struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{logger: log.With(slog.String("service", "realtime"))}
}

// Register adds conn to the sector group. Registering the same connection
// again is a no-op; registering it under another sector moves it.
func (r *Registry) Register(sectorID int64, conn Connection) {
	if conn == nil {
		return
	}
	if prev, loaded := r.owners.Swap(conn, sectorID); loaded {
		if prevID := prev.(int64); prevID != sectorID {
			if g, ok := r.groups.Load(prevID); ok {
				g.(*group).conns.Delete(conn)
			}
		}
	}
	r.group(sectorID).conns.Store(conn, struct{}{})
	r.logger.Debug("connection registered", slog.String("conn_id", conn.ID()), slog.Int64("sector_id", sectorID))
}

// Unregister removes conn from whichever group holds it. Safe to call repeatedly.
func (r *Registry) Unregister(conn Connection) {
	if conn == nil {
		return
	}
	owner, ok := r.owners.LoadAndDelete(conn)
	if !ok {
		return
	}
	sectorID := owner.(int64)
	if g, ok := r.groups.Load(sectorID); ok {
		g.(*group).conns.Delete(conn)
	}
	r.logger.Debug("connection unregistered", slog.String("conn_id", conn.ID()), slog.Int64("sector_id", sectorID))
}

// Broadcast encodes v as JSON and sends it to every open connection of the
// sector. Closed or failing connections are collected during the pass and
// removed afterwards. Only encoding errors are returned.
func (r *Registry) Broadcast(sectorID int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	g, ok := r.groups.Load(sectorID)
	if !ok {
		return nil
	}

	var dead []Connection
	g.(*group).conns.Range(func(key, _ any) bool {
		conn := key.(Connection)
		if !conn.IsOpen() {
			dead = append(dead, conn)
			return true
		}
		if err := conn.Send(data); err != nil {
			sendErr := &ConnectionSendError{ConnID: conn.ID(), SectorID: sectorID, Err: err}
			r.logger.Debug("dropping connection", slog.Any("error", sendErr))
			dead = append(dead, conn)
		}
		return true
	})

	for _, conn := range dead {
		r.Unregister(conn)
		_ = conn.Close()
	}
	return nil
}

// Close disconnects every registered connection.
func (r *Registry) Close() {
	r.owners.Range(func(key, _ any) bool {
		conn := key.(Connection)
		r.Unregister(conn)
		_ = conn.Close()
		return true
	})
}

func (r *Registry) group(sectorID int64) *group {
	if g, ok := r.groups.Load(sectorID); ok {
		return g.(*group)
	}
	g, _ := r.groups.LoadOrStore(sectorID, &group{})
	return g.(*group)
}

func (r *Registry) count(sectorID int64) int {
	g, ok := r.groups.Load(sectorID)
	if !ok {
		return 0
	}
	n := 0
	g.(*group).conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
