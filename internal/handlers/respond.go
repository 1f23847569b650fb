package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"easyform/internal/contactform"

	"github.com/aws/aws-lambda-go/events"
)

func jsonResp(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(b),
	}, nil
}

func errResp(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return jsonResp(status, map[string]any{
		"error": msg,
	})
}

// failResp is the {success:false} shape the admin UI expects from /widget and /app.
func failResp(status int, detail any) (events.APIGatewayV2HTTPResponse, error) {
	return jsonResp(status, map[string]any{
		"success": false,
		"error":   detail,
	})
}

func textResp(status int, body string) (events.APIGatewayV2HTTPResponse, error) {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "text/plain; charset=utf-8"},
		Body:       body,
	}, nil
}

func redirect(location string) (events.APIGatewayV2HTTPResponse, error) {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusFound,
		Headers:    map[string]string{"location": location},
	}, nil
}

// contactFormError maps contact form failures onto responses. Shopify user
// errors are a normal outcome and come back as 200 with the error list.
func contactFormError(shop string, err error) (events.APIGatewayV2HTTPResponse, error) {
	var sce *contactform.SchemaCreationError
	var rwe *contactform.RecordWriteError
	var te *contactform.TransportError

	switch {
	case errors.As(err, &sce):
		log.Printf("widget: shop=%s definition create failed: %v", shop, err)
		return failResp(http.StatusOK, sce.UserErrors)
	case errors.As(err, &rwe):
		log.Printf("widget: shop=%s record write failed: %v", shop, err)
		return failResp(http.StatusOK, rwe.UserErrors)
	case errors.Is(err, contactform.ErrSchemaVerification):
		log.Printf("widget: shop=%s definition not visible after create", shop)
		return failResp(http.StatusOK, "Failed to create metaobject definition")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Printf("widget: shop=%s aborted: %v", shop, err)
		return failResp(http.StatusGatewayTimeout, "request timed out")
	case errors.As(err, &te):
		log.Printf("widget: shop=%s admin api error: %v", shop, err)
		return failResp(http.StatusBadGateway, te.Error())
	default:
		log.Printf("widget: shop=%s unexpected error: %v", shop, err)
		return failResp(http.StatusInternalServerError, err.Error())
	}
}

// header looks a header up case-insensitively; API Gateway v2 lower-cases
// names but the dev server passes them through as sent.
func header(req events.APIGatewayV2HTTPRequest, name string) string {
	if v, ok := req.Headers[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func requestBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}
