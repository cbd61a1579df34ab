package daemon

import (
	"net"
	"net/http"
	"strings"
)

const wildcardHost = "*"

// hostFilter is the node.allowed_hosts allow-list. "localhost" admits any
// loopback address and "*" admits everyone.
type hostFilter struct {
	any   bool
	hosts map[string]struct{}
}

func newHostFilter(hosts []string) hostFilter {
	f := hostFilter{hosts: make(map[string]struct{}, len(hosts))}
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == wildcardHost {
			f.any = true
		}
		if host != "" {
			f.hosts[host] = struct{}{}
		}
	}
	return f
}

func (f hostFilter) allows(remoteAddr string) bool {
	if f.any {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if _, ok := f.hosts[host]; ok {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		if _, ok := f.hosts[ip.String()]; ok {
			return true
		}
		if ip.IsLoopback() {
			_, ok := f.hosts["localhost"]
			return ok
		}
	}
	return false
}

// accessMiddleware rejects requests from hosts outside the current allow-list.
func (d *Daemon) accessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.settings().hosts.allows(r.RemoteAddr) {
			d.metrics.rejected.Inc()
			writeText(w, http.StatusForbidden, "Access forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// aliveMiddleware answers 500 once the store has been closed.
func (d *Daemon) aliveMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-d.store.Closed():
			writeText(w, http.StatusInternalServerError, "Node appears to be dead")
			return
		default:
		}
		next.ServeHTTP(w, r)
	})
}
