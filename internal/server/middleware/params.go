package middleware

import (
	"bytes"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

const (
	ctxKeyBody = "oauthd.body"
	// maxBodyBytes bounds JSON request bodies
	maxBodyBytes = 64 << 10
)

func isJSON(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), gin.MIMEJSON)
}

// jsonBody reads and caches the request body, leaving it readable for
// later handlers
func jsonBody(c *gin.Context) []byte {
	if v, ok := c.Get(ctxKeyBody); ok {
		return v.([]byte)
	}
	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
	}
	c.Set(ctxKeyBody, body)
	return body
}

// Param returns a request parameter from a JSON body, a form body or the
// query string, in that order
func Param(c *gin.Context, name string) string {
	if isJSON(c) {
		if r := gjson.GetBytes(jsonBody(c), name); r.Exists() {
			return r.String()
		}
		return c.Query(name)
	}
	if v, ok := c.GetPostForm(name); ok {
		return v
	}
	return c.Query(name)
}
