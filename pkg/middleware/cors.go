package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig controls which storefront front-ends may call the API from a
// browser.
type CORSConfig struct {
	// AllowedOrigins lists exact origins ("https://lunebijoux.fr"), subdomain
	// patterns ("https://*.lunebijoux.fr", used by preview deploys) or "*".
	AllowedOrigins []string

	// AllowedMethods defaults to GET, POST, PUT, DELETE, OPTIONS.
	AllowedMethods []string

	// AllowedHeaders defaults to Accept, Content-Type and the correlation
	// and session headers.
	AllowedHeaders []string

	// ExposedHeaders lists response headers page scripts may read. The
	// session header must be exposed for the page to keep its cart.
	ExposedHeaders []string

	// MaxAge caches preflight answers, in seconds. Defaults to 3600.
	MaxAge int

	AllowCredentials bool

	// Environment "development" answers every origin with "*".
	Environment string
}

// DefaultCORSConfig allows any origin, for local storefront development.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", CorrelationHeader, SessionHeader},
		ExposedHeaders: []string{CorrelationHeader, SessionHeader, "Retry-After"},
		MaxAge:         3600,
		Environment:    "development",
	}
}

// originMatcher answers whether a request origin is allowed.
type originMatcher struct {
	any      bool
	exact    map[string]struct{}
	suffixes []subdomainPattern
}

type subdomainPattern struct {
	scheme string // "https://"
	domain string // ".lunebijoux.fr"
}

func newOriginMatcher(origins []string, anyOrigin bool) originMatcher {
	m := originMatcher{any: anyOrigin, exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/")
		switch {
		case o == "*":
			m.any = true
		case strings.Contains(o, "://*."):
			scheme, domain, _ := strings.Cut(o, "*")
			m.suffixes = append(m.suffixes, subdomainPattern{scheme: scheme, domain: domain})
		case o != "":
			m.exact[o] = struct{}{}
		}
	}
	return m
}

func (m originMatcher) allows(origin string) bool {
	if _, ok := m.exact[origin]; ok {
		return true
	}
	for _, p := range m.suffixes {
		host, ok := strings.CutPrefix(origin, p.scheme)
		if ok && strings.HasSuffix(host, p.domain) && len(host) > len(p.domain) {
			return true
		}
	}
	return false
}

// CORS sets the cross-origin headers and answers preflight requests.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Accept", "Content-Type", CorrelationHeader, SessionHeader}
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 3600
	}

	origins := newOriginMatcher(cfg.AllowedOrigins, cfg.Environment == "development")
	static := map[string]string{
		"Access-Control-Allow-Methods": strings.Join(methods, ", "),
		"Access-Control-Allow-Headers": strings.Join(headers, ", "),
		"Access-Control-Max-Age":       strconv.Itoa(maxAge),
	}
	if len(cfg.ExposedHeaders) > 0 {
		static["Access-Control-Expose-Headers"] = strings.Join(cfg.ExposedHeaders, ", ")
	}
	if cfg.AllowCredentials {
		static["Access-Control-Allow-Credentials"] = "true"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			switch {
			case origins.any:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && origins.allows(origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			for k, v := range static {
				h.Set(k, v)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
