package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strings"

	"easyform/internal/contactform"

	"github.com/aws/aws-lambda-go/events"
)

const maxFormMemory = 1 << 20

type widgetSaveRequest struct {
	Fields json.RawMessage `json:"fields"`
}

// parseSelection reads the "fields" value from a JSON or form body. The
// value is a JSON-encoded array of keys; JSON bodies may also send the
// array itself. A missing value is an empty selection.
func parseSelection(req events.APIGatewayV2HTTPRequest) ([]string, error) {
	body, err := requestBody(req)
	if err != nil {
		return nil, fmt.Errorf("invalid body encoding: %w", err)
	}

	contentType := header(req, "content-type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	var raw string
	switch {
	case mediaType == "application/json":
		var in widgetSaveRequest
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		trimmed := bytes.TrimSpace(in.Fields)
		if len(trimmed) == 0 || string(trimmed) == "null" {
			return []string{}, nil
		}
		if trimmed[0] == '[' {
			raw = string(trimmed)
		} else if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("fields must be a string or an array: %w", err)
		}

	case mediaType == "multipart/form-data", mediaType == "application/x-www-form-urlencoded":
		r, err := http.NewRequest(http.MethodPost, "/widget", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", contentType)
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxFormMemory)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		raw = r.FormValue("fields")

	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}

	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	var selected []string
	if err := json.Unmarshal([]byte(raw), &selected); err != nil {
		return nil, fmt.Errorf("fields must be a JSON array of strings: %w", err)
	}
	return selected, nil
}

func (a *App) widgetSave(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sess, err := a.authenticate(ctx, req)
	if err != nil {
		return authFailed(err)
	}

	selected, err := parseSelection(req)
	if err != nil {
		return failResp(http.StatusBadRequest, err.Error())
	}

	mo, err := a.contactForm(sess).Save(ctx, selected)
	if err != nil {
		return contactFormError(sess.Shop, err)
	}

	log.Printf("widget: shop=%s saved metaobject=%s selected=%d", sess.Shop, mo.ID, len(contactform.Selected(mo.Fields)))
	return jsonResp(http.StatusOK, map[string]any{
		"success":    true,
		"metaobject": mo,
	})
}

func (a *App) widgetLoad(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sess, err := a.authenticate(ctx, req)
	if err != nil {
		return authFailed(err)
	}

	mo, err := a.contactForm(sess).Load(ctx)
	if err != nil {
		return contactFormError(sess.Shop, err)
	}
	// mo is nil when nothing was saved yet; it marshals as null.
	return jsonResp(http.StatusOK, map[string]any{"metaobject": mo})
}

func (a *App) widgetFields(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sess, err := a.authenticate(ctx, req)
	if err != nil {
		return authFailed(err)
	}

	mo, err := a.contactForm(sess).Load(ctx)
	if err != nil {
		return contactFormError(sess.Shop, err)
	}
	return jsonResp(http.StatusOK, map[string]any{
		"fields": contactform.Selection(mo),
	})
}
