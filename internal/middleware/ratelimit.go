package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/Voice-ly/voice.ly-backend/internal/logging"
)

// Limiter decides whether key may make another request now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a per-key token bucket held in memory.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	r       rate.Limit
	burst   int
	stop    chan struct{}
	once    sync.Once
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*client),
		r:       rate.Limit(rps),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	// cleanup stale entries every minute
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-rl.stop:
				return
			case <-t.C:
				rl.sweep(3 * time.Minute)
			}
		}
	}()
	return rl
}

func (rl *RateLimiter) sweep(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, c := range rl.clients {
		if time.Since(c.seen) > idle {
			delete(rl.clients, k)
		}
	}
}

func (rl *RateLimiter) Close() { rl.once.Do(func() { close(rl.stop) }) }

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if c, ok := rl.clients[key]; ok {
		c.seen = time.Now()
		return c.lim
	}
	l := rate.NewLimiter(rl.r, rl.burst)
	rl.clients[key] = &client{lim: l, seen: time.Now()}
	return l
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.get(key).Allow(), nil
}

// RedisLimiter is a fixed-window counter shared by every replica.
type RedisLimiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
}

// NewRedisLimiter allows limit requests per key per window. The window is
// at least one second and the limit at least one.
func NewRedisLimiter(rdb redis.Cmdable, limit int, window time.Duration) *RedisLimiter {
	if window < time.Second {
		window = time.Second
	}
	if limit < 1 {
		limit = 1
	}
	return &RedisLimiter{rdb: rdb, limit: int64(limit), window: window, prefix: "ratelimit:"}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := time.Now().UnixNano() / int64(rl.window)
	k := fmt.Sprintf("%s%s:%d", rl.prefix, key, slot)

	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, rl.window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= rl.limit, nil
}

// Proxies is the set of peers allowed to report the client address through
// X-Forwarded-For. A nil *Proxies trusts nobody.
type Proxies struct {
	prefixes []netip.Prefix
}

// ParseProxies accepts bare addresses ("10.0.0.1") and CIDR ranges
// ("10.0.0.0/8").
func ParseProxies(list []string) (*Proxies, error) {
	p := &Proxies{}
	for _, s := range list {
		if strings.Contains(s, "/") {
			pfx, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
			}
			p.prefixes = append(p.prefixes, pfx.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
		}
		addr = addr.Unmap()
		p.prefixes = append(p.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p, nil
}

func (p *Proxies) trusts(host string) bool {
	if p == nil {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, pfx := range p.prefixes {
		if pfx.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP is the peer address, or the last X-Forwarded-For hop when the peer
// is a trusted proxy. Earlier hops are written by the client and ignored.
func (p *Proxies) ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !p.trusts(host) {
		return host
	}
	xff := r.Header.Values("X-Forwarded-For")
	if len(xff) == 0 {
		return host
	}
	last := xff[len(xff)-1]
	if i := strings.LastIndexByte(last, ','); i >= 0 {
		last = last[i+1:]
	}
	if last = strings.TrimSpace(last); last != "" {
		return last
	}
	return host
}

// RateLimit answers 429 once the client exceeds l. Clients are told apart by
// proxies.ClientIP. A limiter error lets the request through.
func RateLimit(l Limiter, proxies *Proxies, log logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), proxies.ClientIP(r))
			if err != nil {
				log.Warn(r.Context(), "rate limiter unavailable", "err", err)
				ok = true
			}
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"message":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitUnary limits the gRPC methods in limited by peer address.
func RateLimitUnary(l Limiter, limited map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !limited[info.FullMethod] {
			return next(ctx, req)
		}
		ip := "unknown"
		if p, ok := peer.FromContext(ctx); ok {
			ip = p.Addr.String()
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
		}
		if ok, err := l.Allow(ctx, ip); err == nil && !ok {
			return nil, status.Error(codes.ResourceExhausted, "too many requests")
		}
		return next(ctx, req)
	}
}
