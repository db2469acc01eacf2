package chat

import (
	"sort"
	"sync"
)

// Member is one user's current connection in a room.
type Member struct {
	UserID int64
	Conn   Conn
}

type RegistryStats struct {
	Rooms int `json:"rooms"`
	Conns int `json:"conns"`
}

// Registry maps room -> user -> connection. One connection per (room, user);
// a room with no members is removed.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]map[int64]Conn
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int64]map[int64]Conn)}
}

// Connect registers conn as the user's connection in the room and returns the
// connection it replaced, if any.
func (r *Registry) Connect(roomID, userID int64, conn Conn) (prev Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.rooms[roomID]
	if !ok {
		users = make(map[int64]Conn)
		r.rooms[roomID] = users
	}
	prev = users[userID]
	users[userID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

// Disconnect removes the user's connection from the room. Absent entries are a no-op.
func (r *Registry) Disconnect(roomID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(roomID, userID)
}

// Release removes the entry only while conn is still the registered one.
// It reports whether anything was removed.
func (r *Registry) Release(roomID, userID int64, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[roomID][userID]; !ok || cur != conn {
		return false
	}
	r.removeLocked(roomID, userID)
	return true
}

func (r *Registry) removeLocked(roomID, userID int64) {
	users, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.rooms, roomID)
	}
}

func (r *Registry) Lookup(roomID, userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rooms[roomID][userID]
	return c, ok
}

// OnlineUsers returns the ids present in the room, ascending. Unknown rooms yield an empty slice.
func (r *Registry) OnlineUsers(roomID int64) []int64 {
	r.mu.RLock()
	users := r.rooms[roomID]
	out := make([]int64, 0, len(users))
	for uid := range users {
		out = append(out, uid)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot copies the room's members so callers can deliver without holding the lock.
func (r *Registry) Snapshot(roomID int64) []Member {
	r.mu.RLock()
	users := r.rooms[roomID]
	out := make([]Member, 0, len(users))
	for uid, c := range users {
		out = append(out, Member{UserID: uid, Conn: c})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// All 所有房间的连接快照，关停时使用
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Conn
	for _, users := range r.rooms {
		for _, c := range users {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RegistryStats{Rooms: len(r.rooms)}
	for _, users := range r.rooms {
		st.Conns += len(users)
	}
	return st
}
