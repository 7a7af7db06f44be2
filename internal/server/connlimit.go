package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// SearchLimiter caps the searches running at once, per client IP and in total.
type SearchLimiter struct {
	mu         sync.Mutex
	ipCounts   map[string]int
	totalCount int
	maxPerIP   int
	maxTotal   int
}

// NewSearchLimiter creates a limiter. Zero disables a limit.
func NewSearchLimiter(maxPerIP, maxTotal int) *SearchLimiter {
	return &SearchLimiter{
		ipCounts: make(map[string]int),
		maxPerIP: maxPerIP,
		maxTotal: maxTotal,
	}
}

// TryAcquire reserves a search slot for ip. It returns false if either limit
// would be exceeded.
func (l *SearchLimiter) TryAcquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotal > 0 && l.totalCount >= l.maxTotal {
		return false
	}
	if l.maxPerIP > 0 && l.ipCounts[ip] >= l.maxPerIP {
		return false
	}

	l.ipCounts[ip]++
	l.totalCount++
	return true
}

// Release frees a slot acquired for ip.
func (l *SearchLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ipCounts[ip] > 0 {
		l.ipCounts[ip]--
		if l.ipCounts[ip] == 0 {
			delete(l.ipCounts, ip)
		}
	}
	if l.totalCount > 0 {
		l.totalCount--
	}
}

// Stats returns the running searches and the number of distinct IPs running them.
func (l *SearchLimiter) Stats() (running int, ips int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalCount, len(l.ipCounts)
}

// extractIP extracts the IP address from a remote address string (ip:port format).
func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// getRealIP prefers X-Forwarded-For, then X-Real-IP, then the remote address.
func getRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The first entry is the original client.
		if clientIP := strings.TrimSpace(strings.Split(xff, ",")[0]); clientIP != "" {
			return clientIP
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	return extractIP(r.RemoteAddr)
}
