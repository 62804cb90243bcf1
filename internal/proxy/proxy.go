package proxy

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
)

// Proxy forwards requests that survived the interception pipeline to the
// protected financial-data backend.
type Proxy struct {
	target  *url.URL
	reverse *httputil.ReverseProxy
}

func New(targetURL string) (*Proxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}

	reverse := httputil.NewSingleHostReverseProxy(target)
	reverse.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("backend proxy error for %s %s: %v", r.Method, r.URL.Path, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error": "Backend unavailable"}`))
	}

	log.Printf("Proxy initialized for backend %s", targetURL)

	return &Proxy{target: target, reverse: reverse}, nil
}

// Forwards the request to the backend
func (p *Proxy) Handle(c *gin.Context) {
	c.Request.Host = p.target.Host
	p.reverse.ServeHTTP(c.Writer, c.Request)
}
