// Package rooms keeps connection-to-room memberships and fans frames out to them.
package rooms

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"gomint/apperr"
	"gomint/metrics"
	"gomint/network"
)

// Room name prefixes.
const (
	personalPrefix  = "user_"
	communityPrefix = "community_chat_"
)

// PersonalRoom is the room every connection of wallet joins.
func PersonalRoom(wallet string) string { return personalPrefix + wallet }

// CommunityRoom is the room of one community chat.
func CommunityRoom(communityID string) string { return communityPrefix + communityID }

// Conn is an outbound frame sink. Send must not block.
type Conn interface {
	ID() string
	Send(payload []byte) error
}

type room struct {
	// mu serializes enqueues so members observe one order per room.
	mu      sync.Mutex
	members map[string]Conn
}

// Registry tracks memberships. Lock order: Registry.mu before room.mu.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]Conn
	rooms    map[string]*room
	memberOf map[string]map[string]struct{}

	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRegistry(m *metrics.Metrics, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:    make(map[string]Conn),
		rooms:    make(map[string]*room),
		memberOf: make(map[string]map[string]struct{}),
		metrics:  m,
		logger:   logger.Named("rooms"),
	}
}

// Register makes conn addressable by id. Re-registering replaces the sink.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	if _, ok := r.memberOf[conn.ID()]; !ok {
		r.memberOf[conn.ID()] = make(map[string]struct{})
	}
}

// Join adds a registered connection to name. Joining twice is a no-op.
func (r *Registry) Join(connID, name string) error {
	if name == "" {
		return fmt.Errorf("room name is required: %w", apperr.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return fmt.Errorf("connection %q: %w", connID, apperr.ErrNotFound)
	}

	rm, ok := r.rooms[name]
	if !ok {
		rm = &room{members: make(map[string]Conn)}
		r.rooms[name] = rm
	}
	rm.mu.Lock()
	rm.members[connID] = conn
	rm.mu.Unlock()

	r.memberOf[connID][name] = struct{}{}
	return nil
}

// Leave removes connID from name. Unknown memberships are ignored.
func (r *Registry) Leave(connID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, name)
}

// Disconnect forgets connID and returns the rooms it was in, sorted.
func (r *Registry) Disconnect(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.memberOf[connID]))
	for name := range r.memberOf[connID] {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r.leaveLocked(connID, name)
	}
	delete(r.memberOf, connID)
	delete(r.conns, connID)
	return names
}

func (r *Registry) leaveLocked(connID, name string) {
	if rm, ok := r.rooms[name]; ok {
		rm.mu.Lock()
		delete(rm.members, connID)
		empty := len(rm.members) == 0
		rm.mu.Unlock()
		if empty {
			delete(r.rooms, name)
		}
	}
	if set, ok := r.memberOf[connID]; ok {
		delete(set, name)
	}
}

// BroadcastToRoom encodes one event frame and enqueues it to every member of
// name. It returns the number of members the frame was handed to. A room
// with no members is not an error.
func (r *Registry) BroadcastToRoom(name, event string, data any) (int, error) {
	payload, err := network.EncodeEvent(event, data)
	if err != nil {
		return 0, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return 0, nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	delivered := 0
	for _, conn := range rm.members {
		if r.send(conn, payload) {
			delivered++
		}
	}
	r.metrics.FramesBroadcast("room", delivered)
	return delivered, nil
}

// BroadcastToConnection enqueues one event frame to a single connection.
func (r *Registry) BroadcastToConnection(connID, event string, data any) error {
	payload, err := network.EncodeEvent(event, data)
	if err != nil {
		return err
	}

	r.mu.RLock()
	conn, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %q: %w", connID, apperr.ErrNotFound)
	}

	if r.send(conn, payload) {
		r.metrics.FramesBroadcast("connection", 1)
	}
	return nil
}

func (r *Registry) send(conn Conn, payload []byte) bool {
	err := conn.Send(payload)
	if err == nil {
		return true
	}
	if errors.Is(err, network.ErrSlowConsumer) {
		r.metrics.SlowConsumerDropped()
	}
	r.logger.Debug("frame not delivered", zap.String("connection_id", conn.ID()), zap.Error(err))
	return false
}

// Members returns the connection ids in name, sorted.
func (r *Registry) Members(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomsOf returns the rooms connID is in, sorted.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.memberOf[connID]))
	for name := range r.memberOf[connID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
