package web

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/makt28/mandown/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// Lockout counts failed admin logins per client address. Once a client
// reaches maxFailures it is refused until the lockout window passes.
type Lockout struct {
	mu          sync.Mutex
	clients     map[string]*failures
	maxFailures int
	window      time.Duration
	now         func() time.Time
}

type failures struct {
	count int
	until time.Time
}

// NewLockout creates a Lockout. Expired entries are swept until stopCh is
// closed.
func NewLockout(maxFailures int, windowSeconds int, stopCh <-chan struct{}) *Lockout {
	l := &Lockout{
		clients:     make(map[string]*failures),
		maxFailures: maxFailures,
		window:      time.Duration(windowSeconds) * time.Second,
		now:         time.Now,
	}
	go l.sweep(stopCh)
	return l
}

// Remaining returns how long client stays locked out, zero if it is not.
func (l *Lockout) Remaining(client string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.clients[client]
	if !ok || f.count < l.maxFailures {
		return 0
	}
	left := f.until.Sub(l.now())
	if left <= 0 {
		delete(l.clients, client)
		return 0
	}
	return left
}

// Fail records a failed login. The failure that reaches maxFailures starts
// the lockout window.
func (l *Lockout) Fail(client string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f := l.clients[client]
	if f == nil {
		f = &failures{}
		l.clients[client] = f
	}
	f.count++
	if f.count == l.maxFailures {
		f.until = l.now().Add(l.window)
	}
}

// Reset forgets client after a successful login.
func (l *Lockout) Reset(client string) {
	l.mu.Lock()
	delete(l.clients, client)
	l.mu.Unlock()
}

func (l *Lockout) sweep(stopCh <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for client, f := range l.clients {
				if f.count < l.maxFailures || now.After(f.until) {
					delete(l.clients, client)
				}
			}
			l.mu.Unlock()
		}
	}
}

// BasicAuth guards admin routes with HTTP basic auth checked against the
// configured bcrypt hash. Clients are locked out after repeated failures.
func BasicAuth(cfgMgr *config.Manager, lockout *Lockout, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if left := lockout.Remaining(ip); left > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(left.Seconds()+0.5)))
				http.Error(w, "Too many login attempts. Try again later.", http.StatusTooManyRequests)
				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				challenge(w)
				return
			}

			admin := cfgMgr.Get().Admin
			if subtle.ConstantTimeCompare([]byte(username), []byte(admin.Username)) != 1 {
				lockout.Fail(ip)
				logger.Warn("admin auth failed: wrong username", "ip", ip)
				challenge(w)
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
				lockout.Fail(ip)
				logger.Warn("admin auth failed: wrong password", "ip", ip)
				challenge(w)
				return
			}

			lockout.Reset(ip)
			next.ServeHTTP(w, r)
		})
	}
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="mandown", charset="UTF-8"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// clientIP strips the port from RemoteAddr when present. Forwarding
// headers are ignored so a client cannot pick its own lockout key.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
