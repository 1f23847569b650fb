package handlers

import (
	"encoding/base64"
	"io"
	"log"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
)

// GinHandler serves a Lambda-style handler from gin so the dev server runs
// the same code paths as production.
func GinHandler(h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}

		req := toAPIGatewayRequest(c.Request, body)
		req.RequestContext.HTTP.SourceIP = c.ClientIP()

		resp, err := h(c.Request.Context(), req)
		if err != nil {
			log.Printf("devserver: %s %s: %v", req.RequestContext.HTTP.Method, req.RawPath, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
			return
		}

		out := []byte(resp.Body)
		if resp.IsBase64Encoded {
			if out, err = base64.StdEncoding.DecodeString(resp.Body); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "bad response encoding"})
				return
			}
		}
		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		c.Data(resp.StatusCode, resp.Headers["content-type"], out)
	}
}

func toAPIGatewayRequest(r *http.Request, body []byte) events.APIGatewayV2HTTPRequest {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ",")
	}

	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		query[k] = strings.Join(v, ",")
	}

	req := events.APIGatewayV2HTTPRequest{
		RawPath:               r.URL.Path,
		RawQueryString:        r.URL.RawQuery,
		Headers:               headers,
		QueryStringParameters: query,
	}
	req.RequestContext.HTTP = events.APIGatewayV2HTTPRequestContextHTTPDescription{
		Method:    r.Method,
		Path:      r.URL.Path,
		Protocol:  r.Proto,
		UserAgent: r.UserAgent(),
	}

	if utf8.Valid(body) {
		req.Body = string(body)
	} else {
		req.Body = base64.StdEncoding.EncodeToString(body)
		req.IsBase64Encoded = true
	}
	return req
}

// Mount registers every route of app on r.
func Mount(r gin.IRoutes, app *App) {
	h := GinHandler(app.Handle)
	for _, path := range Routes {
		r.Any(path, h)
	}
}
