package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"easyform/internal/compliance"
	"easyform/internal/config"
	"easyform/internal/contactform"
	"easyform/internal/db"
	"easyform/internal/security"
	"easyform/internal/shopify"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
)

const (
	testSecret = "shpss_test"
	testShop   = "demo.myshopify.com"
)

// memSessions is an in-memory db.SessionStore.
type memSessions struct {
	sessions map[string]db.Session
	states   map[string]db.OAuthState
	pingErr  error

	deleteErrs []error
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]db.Session{}, states: map[string]db.OAuthState{}}
}

func (m *memSessions) GetSession(ctx context.Context, shop string) (*db.Session, error) {
	s, ok := m.sessions[shop]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &s, nil
}

func (m *memSessions) PutSession(ctx context.Context, s db.Session) error {
	m.sessions[s.Shop] = s
	return nil
}

func (m *memSessions) DeleteSession(ctx context.Context, shop string) error {
	if len(m.deleteErrs) > 0 {
		err := m.deleteErrs[0]
		m.deleteErrs = m.deleteErrs[1:]
		return err
	}
	delete(m.sessions, shop)
	return nil
}

func (m *memSessions) UpdateScope(ctx context.Context, shop, scope string) error {
	s, ok := m.sessions[shop]
	if !ok {
		return db.ErrNotFound
	}
	s.Scope = scope
	m.sessions[shop] = s
	return nil
}

func (m *memSessions) SaveState(ctx context.Context, st db.OAuthState) error {
	m.states[st.State] = st
	return nil
}

func (m *memSessions) TakeState(ctx context.Context, state string) (*db.OAuthState, error) {
	st, ok := m.states[state]
	if !ok {
		return nil, db.ErrNotFound
	}
	delete(m.states, state)
	return &st, nil
}

func (m *memSessions) Ping(ctx context.Context) error { return m.pingErr }

// fakeShopify is the shared state behind every fakeAdmin a test's App builds.
type fakeShopify struct {
	def     *shopify.MetaobjectDefinition
	records []shopify.Metaobject

	defErrs   []shopify.UserError
	apiErr    error
	panicOnDo bool
	nilWrite  bool

	tokens     []string
	subscribed map[string]string
	exchange   *shopify.AccessToken
}

type fakeAdmin struct {
	fs    *fakeShopify
	shop  string
	token string
}

func (f *fakeAdmin) check() error {
	f.fs.tokens = append(f.fs.tokens, f.token)
	if f.fs.panicOnDo {
		panic("boom")
	}
	return f.fs.apiErr
}

func (f *fakeAdmin) DefinitionByType(ctx context.Context, typ string) (*shopify.MetaobjectDefinition, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.fs.def, nil
}

func (f *fakeAdmin) CreateDefinition(ctx context.Context, def shopify.MetaobjectDefinition) (*shopify.MetaobjectDefinition, []shopify.UserError, error) {
	if err := f.check(); err != nil {
		return nil, nil, err
	}
	if len(f.fs.defErrs) > 0 {
		return nil, f.fs.defErrs, nil
	}
	def.ID = "gid://shopify/MetaobjectDefinition/1"
	f.fs.def = &def
	return &def, nil, nil
}

func (f *fakeAdmin) FirstMetaobject(ctx context.Context, typ string) (*shopify.Metaobject, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	if len(f.fs.records) == 0 {
		return nil, nil
	}
	mo := f.fs.records[0]
	return &mo, nil
}

func (f *fakeAdmin) CreateMetaobject(ctx context.Context, typ string, fields []shopify.MetaobjectField) (*shopify.Metaobject, []shopify.UserError, error) {
	if err := f.check(); err != nil {
		return nil, nil, err
	}
	if f.fs.nilWrite {
		return nil, nil, nil
	}
	mo := shopify.Metaobject{ID: fmt.Sprintf("gid://shopify/Metaobject/%d", len(f.fs.records)+1), Type: typ, Fields: fields}
	f.fs.records = append(f.fs.records, mo)
	return &mo, nil, nil
}

func (f *fakeAdmin) UpdateMetaobject(ctx context.Context, id string, fields []shopify.MetaobjectField) (*shopify.Metaobject, []shopify.UserError, error) {
	if err := f.check(); err != nil {
		return nil, nil, err
	}
	if f.fs.nilWrite {
		return nil, nil, nil
	}
	f.fs.records[0].Fields = fields
	mo := f.fs.records[0]
	return &mo, nil, nil
}

func (f *fakeAdmin) ShopInfo(ctx context.Context) (*shopify.ShopInfo, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return &shopify.ShopInfo{Name: "Demo", MyshopifyDomain: f.shop}, nil
}

func (f *fakeAdmin) AuthorizeURL(apiKey, scopes, redirectURI, state string) string {
	return (&shopify.Client{Shop: f.shop}).AuthorizeURL(apiKey, scopes, redirectURI, state)
}

func (f *fakeAdmin) ExchangeCode(ctx context.Context, apiKey, apiSecret, code string) (*shopify.AccessToken, error) {
	if f.fs.exchange == nil {
		return nil, errors.New("exchange failed")
	}
	return f.fs.exchange, nil
}

func (f *fakeAdmin) SubscribeWebhooks(ctx context.Context, address string) ([]string, map[string]string) {
	if f.fs.subscribed == nil {
		f.fs.subscribed = map[string]string{}
	}
	for _, t := range shopify.AppWebhookTopics {
		f.fs.subscribed[t] = address
	}
	return shopify.AppWebhookTopics, map[string]string{}
}

func newTestApp(t *testing.T) (*App, *memSessions, *fakeShopify) {
	t.Helper()
	sessions := newMemSessions()
	sessions.sessions[testShop] = db.Session{Shop: testShop, AccessToken: "shpat_abc", Scope: "write_metaobjects"}
	fs := &fakeShopify{}

	cfg := config.Config{
		ShopifyAPIKey:     "key123",
		ShopifyAPISecret:  testSecret,
		ShopifyScopes:     "read_metaobjects,write_metaobjects",
		ShopifyAPIVersion: config.DefaultAPIVersion,
		AppURL:            "https://easyform.example.com",
		Environment:       "test",
	}
	app := NewApp(cfg, sessions)
	app.NewAdmin = func(shop, token string) AdminClient {
		return &fakeAdmin{fs: fs, shop: shop, token: token}
	}
	app.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return app, sessions, fs
}

func signedQuery(shop string, extra map[string]string) map[string]string {
	q := map[string]string{"shop": shop, "timestamp": "1767323045"}
	for k, v := range extra {
		q[k] = v
	}
	q["hmac"] = security.SignQuery(q, testSecret)
	return q
}

func signedQueryWithout(shop, drop string) map[string]string {
	q := map[string]string{"shop": shop, "timestamp": "1767323045"}
	delete(q, drop)
	q["hmac"] = security.SignQuery(q, testSecret)
	return q
}

func request(method, path string, query map[string]string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{
		RawPath:               path,
		QueryStringParameters: query,
		Headers:               map[string]string{},
	}
	req.RequestContext.HTTP.Method = method
	return req
}

func jsonPost(body string) events.APIGatewayV2HTTPRequest {
	req := request(http.MethodPost, "/widget", signedQuery(testShop, nil))
	req.Headers["content-type"] = "application/json"
	req.Body = body
	return req
}

func decode(t *testing.T, resp events.APIGatewayV2HTTPResponse) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		t.Fatalf("response is not json: %q", resp.Body)
	}
	return out
}

func fieldValues(t *testing.T, body map[string]any) map[string]string {
	t.Helper()
	mo, ok := body["metaobject"].(map[string]any)
	if !ok {
		t.Fatalf("no metaobject in %v", body)
	}
	out := map[string]string{}
	for _, f := range mo["fields"].([]any) {
		kv := f.(map[string]any)
		out[kv["key"].(string)] = kv["value"].(string)
	}
	return out
}

func TestWidgetSave_Unauthorized(t *testing.T) {
	app, _, _ := newTestApp(t)
	ctx := context.Background()

	cases := map[string]events.APIGatewayV2HTTPRequest{
		"no hmac":      request(http.MethodPost, "/widget", map[string]string{"shop": testShop}),
		"bad hmac":     request(http.MethodPost, "/widget", map[string]string{"shop": testShop, "hmac": "00"}),
		"unknown shop": request(http.MethodPost, "/widget", signedQuery("other.myshopify.com", nil)),
		"bad domain":   request(http.MethodPost, "/widget", signedQuery("evil.com", nil)),
		"stale":        request(http.MethodPost, "/widget", signedQuery(testShop, map[string]string{"timestamp": "1000000000"})),
		"future":       request(http.MethodPost, "/widget", signedQuery(testShop, map[string]string{"timestamp": "1767323945"})),
		"no timestamp": request(http.MethodPost, "/widget", signedQueryWithout(testShop, "timestamp")),
	}
	for name, req := range cases {
		resp, err := app.Handle(ctx, req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status = %d", name, resp.StatusCode)
		}
		body := decode(t, resp)
		if body["success"] != false || body["error"] != "unauthorized" {
			t.Errorf("%s: body = %v", name, body)
		}
	}
}

func TestWidgetLoad_RecentTimestamp(t *testing.T) {
	app, _, _ := newTestApp(t)

	// A couple of minutes of clock skew either way is accepted.
	for _, ts := range []string{"1767322925", "1767323165"} {
		req := request(http.MethodGet, "/widget", signedQuery(testShop, map[string]string{"timestamp": ts}))
		resp, _ := app.Handle(context.Background(), req)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("timestamp %s: status = %d body = %s", ts, resp.StatusCode, resp.Body)
		}
	}
}

func TestWidgetSave_NoRecordReturned(t *testing.T) {
	app, _, fs := newTestApp(t)
	fs.nilWrite = true

	resp, _ := app.Handle(context.Background(), jsonPost(`{"fields":["email"]}`))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d body = %s", resp.StatusCode, resp.Body)
	}
	body := decode(t, resp)
	if body["success"] != false || !strings.Contains(fmt.Sprint(body["error"]), "no metaobject") {
		t.Errorf("body = %v", body)
	}
}

func TestWidgetSave_JSONStringFields(t *testing.T) {
	app, _, fs := newTestApp(t)

	resp, _ := app.Handle(context.Background(), jsonPost(`{"fields":"[\"firstName\",\"email\",\"bogus\"]"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %s", resp.StatusCode, resp.Body)
	}
	body := decode(t, resp)
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}
	vals := fieldValues(t, body)
	if len(vals) != len(contactform.FieldKeys) {
		t.Errorf("fields = %d, want %d", len(vals), len(contactform.FieldKeys))
	}
	if vals["firstName"] != "true" || vals["email"] != "true" || vals["phone"] != "false" {
		t.Errorf("values = %v", vals)
	}
	if _, ok := vals["bogus"]; ok {
		t.Error("unknown key written")
	}
	for _, tok := range fs.tokens {
		if tok != "shpat_abc" {
			t.Fatalf("admin client built with token %q", tok)
		}
	}
}

func TestWidgetSave_JSONArrayFields(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, _ := app.Handle(context.Background(), jsonPost(`{"fields":["message"]}`))
	vals := fieldValues(t, decode(t, resp))
	if vals["message"] != "true" || vals["email"] != "false" {
		t.Errorf("values = %v", vals)
	}
}

func TestWidgetSave_MissingFieldsIsEmptySelection(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, _ := app.Handle(context.Background(), jsonPost(`{}`))
	vals := fieldValues(t, decode(t, resp))
	for k, v := range vals {
		if v != "false" {
			t.Errorf("%s = %s", k, v)
		}
	}
}

func TestWidgetSave_Multipart(t *testing.T) {
	app, _, _ := newTestApp(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("fields", `["city","zipCode"]`)
	_ = w.Close()

	req := request(http.MethodPost, "/widget", signedQuery(testShop, nil))
	req.Headers["content-type"] = w.FormDataContentType()
	req.Body = base64.StdEncoding.EncodeToString(buf.Bytes())
	req.IsBase64Encoded = true

	resp, _ := app.Handle(context.Background(), req)
	vals := fieldValues(t, decode(t, resp))
	if vals["city"] != "true" || vals["zipCode"] != "true" || vals["firstName"] != "false" {
		t.Errorf("values = %v", vals)
	}
}

func TestWidgetSave_URLEncoded(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := request(http.MethodPost, "/widget", signedQuery(testShop, nil))
	req.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	req.Body = url.Values{"fields": {`["subject"]`}}.Encode()

	resp, _ := app.Handle(context.Background(), req)
	vals := fieldValues(t, decode(t, resp))
	if vals["subject"] != "true" {
		t.Errorf("values = %v", vals)
	}
}

func TestWidgetSave_BadInput(t *testing.T) {
	app, _, fs := newTestApp(t)

	for _, body := range []string{`not json`, `{"fields":"[1,2"}`, `{"fields":{"a":1}}`} {
		resp, _ := app.Handle(context.Background(), jsonPost(body))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, resp.StatusCode)
		}
	}
	if len(fs.records) != 0 || fs.def != nil {
		t.Error("bad input reached the admin api")
	}
}

func TestWidgetSave_SchemaUserErrors(t *testing.T) {
	app, _, fs := newTestApp(t)
	fs.defErrs = []shopify.UserError{{Field: []string{"definition", "type"}, Message: "is reserved"}}

	resp, _ := app.Handle(context.Background(), jsonPost(`{"fields":"[\"email\"]"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	errs, ok := body["error"].([]any)
	if body["success"] != false || !ok || len(errs) != 1 {
		t.Fatalf("body = %v", body)
	}
	if errs[0].(map[string]any)["message"] != "is reserved" {
		t.Errorf("error = %v", errs[0])
	}
	if len(fs.records) != 0 {
		t.Error("record written after schema failure")
	}
}

func TestWidgetSave_TransportError(t *testing.T) {
	app, _, fs := newTestApp(t)
	fs.apiErr = &shopify.StatusError{StatusCode: 503, Body: "unavailable"}

	resp, _ := app.Handle(context.Background(), jsonPost(`{"fields":"[]"}`))
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if decode(t, resp)["success"] != false {
		t.Errorf("body = %s", resp.Body)
	}
}

func TestWidgetSave_PanicBecomesFailure(t *testing.T) {
	app, _, fs := newTestApp(t)
	fs.panicOnDo = true

	resp, err := app.Handle(context.Background(), jsonPost(`{"fields":"[]"}`))
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", resp.StatusCode)
	}
	body := decode(t, resp)
	if body["success"] != false || body["error"] != "boom" {
		t.Errorf("body = %s", resp.Body)
	}
}

func TestWidgetLoadAndFields(t *testing.T) {
	app, _, _ := newTestApp(t)
	ctx := context.Background()

	resp, _ := app.Handle(ctx, request(http.MethodGet, "/widget", signedQuery(testShop, nil)))
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Body, `"metaobject":null`) {
		t.Fatalf("empty load: %d %s", resp.StatusCode, resp.Body)
	}

	resp, _ = app.Handle(ctx, request(http.MethodGet, "/widget/fields", signedQuery(testShop, nil)))
	fields := decode(t, resp)["fields"].(map[string]any)
	if fields["email"] != true || fields["firstName"] != false {
		t.Errorf("default fields = %v", fields)
	}

	app.Handle(ctx, jsonPost(`{"fields":"[\"phone\"]"}`))

	resp, _ = app.Handle(ctx, request(http.MethodGet, "/widget", signedQuery(testShop, nil)))
	if vals := fieldValues(t, decode(t, resp)); vals["phone"] != "true" {
		t.Errorf("loaded values = %v", vals)
	}

	resp, _ = app.Handle(ctx, request(http.MethodGet, "/widget/fields", signedQuery(testShop, nil)))
	fields = decode(t, resp)["fields"].(map[string]any)
	if fields["phone"] != true || fields["city"] != false {
		t.Errorf("fields = %v", fields)
	}
}

func TestAppIndex(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, _ := app.Handle(context.Background(), request(http.MethodGet, "/app", signedQuery(testShop, nil)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if strings.Contains(resp.Body, "shpat_abc") {
		t.Error("access token leaked")
	}
	body := decode(t, resp)
	if body["shop"] != testShop {
		t.Errorf("body = %v", body)
	}
}

func TestAuthBegin(t *testing.T) {
	app, sessions, _ := newTestApp(t)

	resp, _ := app.Handle(context.Background(), request(http.MethodGet, "/auth", map[string]string{"shop": "New.myshopify.com"}))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d body = %s", resp.StatusCode, resp.Body)
	}
	loc, err := url.Parse(resp.Headers["location"])
	if err != nil || loc.Host != "new.myshopify.com" || loc.Path != "/admin/oauth/authorize" {
		t.Fatalf("location = %s", resp.Headers["location"])
	}
	q := loc.Query()
	if q.Get("redirect_uri") != "https://easyform.example.com/auth/callback" || q.Get("client_id") != "key123" {
		t.Errorf("query = %v", q)
	}

	st, ok := sessions.states[q.Get("state")]
	if !ok || st.Shop != "new.myshopify.com" {
		t.Fatalf("state not stored: %v", sessions.states)
	}
	if want := app.now().Add(10 * time.Minute); !st.ExpiresAt.Equal(want) {
		t.Errorf("expires = %v, want %v", st.ExpiresAt, want)
	}

	resp, _ = app.Handle(context.Background(), request(http.MethodGet, "/auth", map[string]string{"shop": "evil.com"}))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid shop status = %d", resp.StatusCode)
	}
}

func TestAuthCallback(t *testing.T) {
	app, sessions, fs := newTestApp(t)
	fs.exchange = &shopify.AccessToken{AccessToken: "shpat_new", Scope: "write_metaobjects"}
	shop := "new.myshopify.com"
	sessions.states["st1"] = db.OAuthState{State: "st1", Shop: shop, ExpiresAt: time.Now().Add(time.Minute)}

	resp, _ := app.Handle(context.Background(), request(http.MethodGet, "/auth/callback", signedQuery(shop, map[string]string{"code": "c0de", "state": "st1"})))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d body = %s", resp.StatusCode, resp.Body)
	}
	if resp.Headers["location"] != "https://new.myshopify.com/admin/apps/key123" {
		t.Errorf("location = %s", resp.Headers["location"])
	}
	if strings.Contains(resp.Body, "shpat_new") || strings.Contains(resp.Headers["location"], "shpat_new") {
		t.Error("token returned to browser")
	}
	if got := sessions.sessions[shop]; got.AccessToken != "shpat_new" {
		t.Errorf("session = %+v", got)
	}
	if fs.subscribed["app/uninstalled"] != "https://easyform.example.com/webhooks" {
		t.Errorf("subscriptions = %v", fs.subscribed)
	}

	// state is single use
	resp, _ = app.Handle(context.Background(), request(http.MethodGet, "/auth/callback", signedQuery(shop, map[string]string{"code": "c0de", "state": "st1"})))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("reused state status = %d", resp.StatusCode)
	}
}

func TestAuthCallback_Rejections(t *testing.T) {
	app, sessions, fs := newTestApp(t)
	fs.exchange = &shopify.AccessToken{AccessToken: "shpat_new"}
	sessions.states["st1"] = db.OAuthState{State: "st1", Shop: "a.myshopify.com", ExpiresAt: time.Now().Add(time.Minute)}

	tampered := signedQuery("b.myshopify.com", map[string]string{"code": "c", "state": "st1"})
	tampered["code"] = "other"

	cases := map[string]map[string]string{
		"missing code":   signedQuery("b.myshopify.com", map[string]string{"state": "st1"}),
		"bad hmac":       tampered,
		"state mismatch": signedQuery("b.myshopify.com", map[string]string{"code": "c", "state": "st1"}),
	}
	for name, q := range cases {
		resp, _ := app.Handle(context.Background(), request(http.MethodGet, "/auth/callback", q))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d", name, resp.StatusCode)
		}
	}
	if _, ok := sessions.sessions["b.myshopify.com"]; ok {
		t.Error("session stored for rejected callback")
	}
}

func webhookReq(topic, id string, body []byte) events.APIGatewayV2HTTPRequest {
	req := request(http.MethodPost, "/webhooks", nil)
	req.Headers = map[string]string{
		"x-shopify-topic":       topic,
		"x-shopify-shop-domain": testShop,
		"x-shopify-webhook-id":  id,
		"x-shopify-hmac-sha256": security.SignWebhook(body, testSecret),
	}
	req.Body = string(body)
	return req
}

type fakeLedger struct{ seen map[string]bool }

func (f *fakeLedger) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.seen, in.Key["PK"].(*types.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeLedger) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	if f.seen[pk] {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.seen[pk] = true
	return &dynamodb.PutItemOutput{}, nil
}

type fakeArchive struct {
	keys []string
	errs []error
}

func (f *fakeArchive) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	_, _ = io.Copy(io.Discard, in.Body)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	f.keys = append(f.keys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func TestWebhooks_RejectsBadSignature(t *testing.T) {
	app, sessions, _ := newTestApp(t)

	req := webhookReq("app/uninstalled", "w1", []byte(`{}`))
	req.Headers["x-shopify-hmac-sha256"] = "bm9wZQ=="
	resp, _ := app.Handle(context.Background(), req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if _, ok := sessions.sessions[testShop]; !ok {
		t.Error("session deleted by unsigned webhook")
	}
}

func TestWebhooks_Uninstalled(t *testing.T) {
	app, sessions, _ := newTestApp(t)

	resp, _ := app.Handle(context.Background(), webhookReq("app/uninstalled", "w1", []byte(`{"id":1}`)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := sessions.sessions[testShop]; ok {
		t.Error("session not deleted")
	}

	// a repeat after the session is gone is still fine
	resp, _ = app.Handle(context.Background(), webhookReq("app/uninstalled", "w2", []byte(`{"id":1}`)))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat status = %d", resp.StatusCode)
	}
}

func TestWebhooks_ScopesUpdate(t *testing.T) {
	app, sessions, _ := newTestApp(t)

	body := []byte(`{"previous":["read_metaobjects"],"current":["read_metaobjects","write_metaobjects"]}`)
	resp, _ := app.Handle(context.Background(), webhookReq("app/scopes_update", "w1", body))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := sessions.sessions[testShop].Scope; got != "read_metaobjects,write_metaobjects" {
		t.Errorf("scope = %q", got)
	}
}

func TestWebhooks_ComplianceAndDedupe(t *testing.T) {
	app, sessions, _ := newTestApp(t)
	archive := &fakeArchive{}
	app.Compliance = &compliance.Recorder{S3: archive, Bucket: "bucket"}
	app.Ledger = shopify.NewWebhookLedger(&fakeLedger{seen: map[string]bool{}}, "dedupe")

	body := []byte(`{"shop_domain":"demo.myshopify.com"}`)
	resp, _ := app.Handle(context.Background(), webhookReq("shop/redact", "w9", body))
	if resp.StatusCode != http.StatusOK || resp.Body != "Shop data erased" {
		t.Fatalf("resp = %d %q", resp.StatusCode, resp.Body)
	}
	if len(archive.keys) != 1 || archive.keys[0] != "compliance/shop/redact/demo.myshopify.com/w9.json" {
		t.Errorf("archive keys = %v", archive.keys)
	}
	if _, ok := sessions.sessions[testShop]; ok {
		t.Error("session kept after shop/redact")
	}

	resp, _ = app.Handle(context.Background(), webhookReq("shop/redact", "w9", body))
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Body, `"duplicate":true`) {
		t.Errorf("duplicate resp = %d %s", resp.StatusCode, resp.Body)
	}
	if len(archive.keys) != 1 {
		t.Errorf("duplicate archived again: %v", archive.keys)
	}

	resp, _ = app.Handle(context.Background(), webhookReq("customers/data_request", "w10", []byte(`{"customer":{"id":7}}`)))
	if resp.StatusCode != http.StatusOK || len(archive.keys) != 2 {
		t.Errorf("data_request: %d %v", resp.StatusCode, archive.keys)
	}
}

func TestWebhooks_FailedDeliveryIsRetried(t *testing.T) {
	app, _, _ := newTestApp(t)
	archive := &fakeArchive{errs: []error{errors.New("s3 unavailable")}}
	app.Compliance = &compliance.Recorder{S3: archive, Bucket: "bucket"}
	app.Ledger = shopify.NewWebhookLedger(&fakeLedger{seen: map[string]bool{}}, "dedupe")

	body := []byte(`{"customer":{"id":7}}`)
	resp, _ := app.Handle(context.Background(), webhookReq("customers/data_request", "w1", body))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("first delivery status = %d", resp.StatusCode)
	}

	resp, _ = app.Handle(context.Background(), webhookReq("customers/data_request", "w1", body))
	if resp.StatusCode != http.StatusOK || strings.Contains(resp.Body, "duplicate") {
		t.Fatalf("retry = %d %s", resp.StatusCode, resp.Body)
	}
	if len(archive.keys) != 1 || archive.keys[0] != "compliance/customers/data_request/demo.myshopify.com/w1.json" {
		t.Errorf("archive keys = %v", archive.keys)
	}

	resp, _ = app.Handle(context.Background(), webhookReq("customers/data_request", "w1", body))
	if !strings.Contains(resp.Body, `"duplicate":true`) {
		t.Errorf("after success = %d %s", resp.StatusCode, resp.Body)
	}
}

func TestWebhooks_FailedUninstallIsRetried(t *testing.T) {
	app, sessions, _ := newTestApp(t)
	sessions.deleteErrs = []error{errors.New("throttled")}
	app.Ledger = shopify.NewWebhookLedger(&fakeLedger{seen: map[string]bool{}}, "dedupe")

	resp, _ := app.Handle(context.Background(), webhookReq("app/uninstalled", "w2", []byte(`{}`)))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("first delivery status = %d", resp.StatusCode)
	}
	if _, ok := sessions.sessions[testShop]; !ok {
		t.Fatal("session removed despite failure")
	}

	resp, _ = app.Handle(context.Background(), webhookReq("app/uninstalled", "w2", []byte(`{}`)))
	if resp.StatusCode != http.StatusOK || strings.Contains(resp.Body, "duplicate") {
		t.Fatalf("retry = %d %s", resp.StatusCode, resp.Body)
	}
	if _, ok := sessions.sessions[testShop]; ok {
		t.Error("session kept after retried uninstall")
	}
}

func TestHealth(t *testing.T) {
	app, sessions, _ := newTestApp(t)

	resp, _ := app.Handle(context.Background(), request(http.MethodGet, "/health", nil))
	body := decode(t, resp)
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" || body["database"] != "connected" {
		t.Errorf("healthy: %d %v", resp.StatusCode, body)
	}
	if body["environment"] != "test" || body["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("body = %v", body)
	}

	sessions.pingErr = errors.New("table missing")
	resp, _ = app.Handle(context.Background(), request(http.MethodGet, "/health", nil))
	body = decode(t, resp)
	if resp.StatusCode != http.StatusInternalServerError || body["status"] != "unhealthy" || body["database"] != "disconnected" || body["error"] != "table missing" {
		t.Errorf("unhealthy: %d %v", resp.StatusCode, body)
	}
}

func TestRouting(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, _ := app.Handle(context.Background(), request(http.MethodGet, "/nope", nil))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d", resp.StatusCode)
	}
	resp, _ = app.Handle(context.Background(), request(http.MethodDelete, "/widget", nil))
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("bad method status = %d", resp.StatusCode)
	}
}

func TestGinMount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	app, _, _ := newTestApp(t)
	r := gin.New()
	Mount(r, app)

	q := url.Values{}
	for k, v := range signedQuery(testShop, nil) {
		q.Set(k, v)
	}
	form := url.Values{"fields": {`["email","city"]`}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/widget?"+q.Encode(), strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content-type = %s", ct)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if vals := fieldValues(t, body); vals["city"] != "true" || vals["email"] != "true" {
		t.Errorf("values = %v", vals)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestOnly(t *testing.T) {
	app, _, _ := newTestApp(t)
	h := app.Only("/health")

	resp, _ := h(context.Background(), request(http.MethodGet, "/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	resp, _ = h(context.Background(), request(http.MethodGet, "/widget", signedQuery(testShop, nil)))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("widget through health-only handler: status = %d", resp.StatusCode)
	}
}
