package chat

import "sync"

// Router 按帧类型查找 Handler
type Router struct {
	mu       sync.RWMutex
	handlers map[FrameType]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[FrameType]Handler)}
}

// Register 同类型后注册的覆盖先注册的
func (r *Router) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Type()] = h
}

func (r *Router) GetHandler(t FrameType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[t]
}

func (r *Router) Types() []FrameType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FrameType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
