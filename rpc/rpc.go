package rpc

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// DefaultPath is the HTTP path the escrow daemon serves JSON-RPC on.
const DefaultPath = "/rpc"

// Credentials carries a bearer token attached to every request.
type Credentials struct {
	Token string
}

// Header returns the Authorization header value, or empty without a token.
func (c Credentials) Header() string {
	if c.Token == "" {
		return ""
	}
	return "Bearer " + c.Token
}

// Dial connects to the JSON-RPC endpoint of target. A target without a scheme gets
// http://, and one without a path gets DefaultPath.
func Dial(target string, creds Credentials) (*rpc.Client, error) {
	url := Endpoint(target)
	httpClient := &http.Client{Timeout: time.Minute}
	c, err := rpc.DialHTTPWithClient(url, httpClient)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %v", url, err)
	}
	if h := creds.Header(); h != "" {
		c.SetHeader("Authorization", h)
	}
	return c, nil
}

// Endpoint normalizes target into a JSON-RPC URL.
func Endpoint(target string) string {
	if !strings.Contains(target, "://") {
		scheme := "http://"
		if strings.HasSuffix(target, ":443") {
			scheme = "https://"
		}
		target = scheme + target
	}
	rest := target[strings.Index(target, "://")+3:]
	if !strings.Contains(rest, "/") {
		target += DefaultPath
	}
	return target
}
