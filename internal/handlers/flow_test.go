package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ticketgate/api/internal/backend"
	"github.com/ticketgate/api/internal/payments"
	"github.com/ticketgate/api/internal/platform/auth"
	"github.com/ticketgate/api/internal/platform/idempotency"
	"github.com/ticketgate/api/internal/repositories"
	"github.com/ticketgate/api/internal/services"
)

var flowEndpoints = services.Endpoints{
	Auth:          "/session",
	Upcoming:      "/search",
	Map:           "/map",
	Performance:   "/performance",
	Order:         "/order",
	Customer:      "/customer",
	PaymentMethod: "/paymentmethod",
	User:          "/user",
}

type stubReply struct {
	status    int
	body      any
	setCookie string
}

// orderBackend is a scripted stand-in for the ticketing backend. Calls are labelled by their
// first action, or set/get/login otherwise.
type orderBackend struct {
	mu     sync.Mutex
	calls  []string
	reply  func(label string, req backend.Request, seen int) stubReply
	server *httptest.Server
}

func newOrderBackend(t *testing.T, reply func(label string, req backend.Request, seen int) stubReply) *orderBackend {
	t.Helper()
	ob := &orderBackend{reply: reply}
	ob.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req backend.Request
		_ = json.Unmarshal(raw, &req)

		label := "login"
		switch {
		case len(req.Actions) > 0:
			label = req.Actions[0].Method
		case len(req.Set) > 0:
			label = "set"
		case len(req.Get) > 0:
			label = "get"
		}
		ob.mu.Lock()
		seen := 0
		for _, prior := range ob.calls {
			if prior == label {
				seen++
			}
		}
		ob.calls = append(ob.calls, label)
		ob.mu.Unlock()

		out := reply(label, req, seen)
		if out.status == 0 {
			out.status = http.StatusOK
		}
		if out.setCookie != "" {
			w.Header().Add("Set-Cookie", out.setCookie)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(out.status)
		_ = json.NewEncoder(w).Encode(out.body)
	}))
	t.Cleanup(ob.server.Close)
	return ob
}

func (ob *orderBackend) count(label string) int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	n := 0
	for _, call := range ob.calls {
		if call == label {
			n++
		}
	}
	return n
}

func std(value any) map[string]any {
	return map[string]any{"standard": value, "display": value, "input": value}
}

func data(fields map[string]any) map[string]any {
	return map[string]any{"data": fields}
}

func paymentRecords(id string, attrs map[string]any) map[string]any {
	record := map[string]any{"payment_id": std(id)}
	for k, v := range attrs {
		record[k] = v
	}
	return map[string]any{id: record}
}

// loginReply answers the authenticate call; every other label is delegated to next.
func loginReply(next func(label string, req backend.Request, seen int) stubReply) func(string, backend.Request, int) stubReply {
	return func(label string, req backend.Request, seen int) stubReply {
		if label == "login" {
			return stubReply{body: map[string]any{"session": "tok-1", "version": "7.2"}, setCookie: "lb=node-1; Path=/"}
		}
		return next(label, req, seen)
	}
}

type flowApp struct {
	server *httptest.Server
	client *http.Client
}

func newFlowApp(t *testing.T, ob *orderBackend) *flowApp {
	t.Helper()
	repo := repositories.NewMemorySessionRepository()
	client := backend.NewClient(ob.server.URL, backend.WithTimeout(5*time.Second))
	gateway, err := payments.NewGatewayDefaults("test", "test_KEY", "US", "USD")
	if err != nil {
		t.Fatalf("NewGatewayDefaults: %v", err)
	}
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	sessionSvc, err := services.NewSessionService(services.SessionServiceDeps{
		Sessions: repo, Backend: client, Endpoints: flowEndpoints, UserID: "boxoffice", Password: "pw",
	})
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Sessions: repo, Backend: client, Endpoints: flowEndpoints,
		Defaults: services.CheckoutDefaults{CustomerNumber: "1000", CardholderName: "Box Office", PAResponseURL: "https://shop.example/3ds"},
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Sessions: repo, Backend: client, Endpoints: flowEndpoints, Gateway: gateway,
		ConfirmationPath: "/viewOrder.html", PAResponseURL: "https://shop.example/3ds", Clock: now,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	sessions, err := auth.NewSessions("flow-test-signing-secret-0123456789abcdef", auth.WithSecureCookie(false))
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}

	paymentHandlers := NewPaymentHandlers(paymentSvc)
	router := NewRouter(
		WithSessionMiddlewares(sessions.Middleware()),
		WithIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())),
		WithSessionRoutes(NewSessionHandlers(sessionSvc, WithSessionRotator(sessions)).Routes),
		WithCheckoutRoutes(NewCheckoutHandlers(checkoutSvc).Routes),
		WithPaymentRoutes(paymentHandlers.Routes),
		WithCompletionRoutes(paymentHandlers.CompletionRoutes),
	)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &flowApp{server: server, client: &http.Client{Jar: jar}}
}

func (a *flowApp) post(t *testing.T, path string, body any, headers map[string]string) (int, http.Header, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, a.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, resp.Header, out
}

func (a *flowApp) login(t *testing.T) {
	t.Helper()
	status, _, body := a.post(t, "/login", map[string]any{}, nil)
	if status != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%v)", status, body)
	}
	if body["version"] != "7.2" || body["session"] == "" {
		t.Fatalf("unexpected login body %v", body)
	}
}

func TestFlowCheckoutThenTransaction(t *testing.T) {
	ob := newOrderBackend(t, loginReply(func(label string, req backend.Request, _ int) stubReply {
		switch label {
		case "addCustomer", "set", "getPaymentClientToken", "addPayment":
			return stubReply{body: data(map[string]any{"Payments": paymentRecords("P1", nil)})}
		case "get":
			if len(req.Get) == 1 && req.Get[0] == "Payments" {
				return stubReply{body: data(map[string]any{"Payments": map[string]any{}})}
			}
			return stubReply{body: data(map[string]any{"Payments::P1": map[string]any{"amount": std("40.00")}})}
		case "insert":
			return stubReply{body: data(map[string]any{
				"Order::order_number": std("ORD-77"),
				"Payments":            paymentRecords("P1", nil),
			})}
		}
		return stubReply{status: http.StatusTeapot, body: map[string]any{"label": label}}
	}))
	app := newFlowApp(t, ob)

	if status, _, body := app.post(t, "/checkout", map[string]any{"deliveryMethod": 4}, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d (%v)", status, body)
	}
	app.login(t)

	status, _, body := app.post(t, "/checkout", map[string]any{"deliveryMethod": 4, "paymentMethod": "7"}, nil)
	if status != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d (%v)", status, body)
	}
	if body["paymentID"] != "P1" || body["reusedPayment"] != false {
		t.Fatalf("unexpected checkout body %v", body)
	}
	if _, ok := body["payment_details"].(map[string]any); !ok {
		t.Fatalf("expected payment details, got %v", body["payment_details"])
	}

	status, _, body = app.post(t, "/transaction", map[string]any{"paymentID": "P1", "orderData": map[string]any{"paymentMethod": "Visa"}}, nil)
	if status != http.StatusOK {
		t.Fatalf("transaction: expected 200, got %d (%v)", status, body)
	}
	if body["success"] != true || body["orderId"] != "ORD-77" {
		t.Fatalf("unexpected transaction body %v", body)
	}
	redirect, _ := body["redirectUrl"].(string)
	if !strings.HasPrefix(redirect, "/viewOrder.html?orderId=ORD-77&transactionId=TXN-") {
		t.Fatalf("unexpected redirect %q", redirect)
	}
	details, _ := body["transactionDetails"].(map[string]any)
	if details["paymentMethod"] != "Visa" || details["status"] != "completed" {
		t.Fatalf("unexpected transaction details %v", details)
	}
}

func TestFlowStepUpChallenge(t *testing.T) {
	ob := newOrderBackend(t, loginReply(func(label string, _ backend.Request, seen int) stubReply {
		switch label {
		case "insert":
			if seen == 0 {
				return stubReply{
					status: http.StatusInternalServerError,
					body:   map[string]any{"exception": map[string]any{"number": 4294, "message": "Payer authentication required"}},
				}
			}
			return stubReply{body: data(map[string]any{
				"Order::order_number": std("ORD-88"),
				"Payments":            paymentRecords("P1", nil),
			})}
		case "get":
			return stubReply{body: data(map[string]any{
				"Payments::P1::pa_request_information": std(`{"md":"abc"}`),
				"Payments::P1::pa_request_URL":         std("https://acs.example/start"),
			})}
		case "set":
			return stubReply{body: data(map[string]any{"Payments": paymentRecords("P1", nil)})}
		}
		return stubReply{status: http.StatusTeapot, body: map[string]any{"label": label}}
	}))
	app := newFlowApp(t, ob)
	app.login(t)

	status, _, body := app.post(t, "/transaction", map[string]any{"paymentID": "P1"}, nil)
	if status != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d (%v)", status, body)
	}
	if body["error"] != "3ds required" || body["code"] != float64(4294) || body["paymentId"] != "P1" {
		t.Fatalf("unexpected challenge body %v", body)
	}
	if info, _ := body["paRequestInfo"].(map[string]any); info["md"] != "abc" {
		t.Fatalf("expected decoded challenge info, got %v", body["paRequestInfo"])
	}
	if body["paRequestURL"] != "https://acs.example/start" {
		t.Fatalf("unexpected challenge url %v", body["paRequestURL"])
	}

	status, _, body = app.post(t, "/processThreeDSResponse", map[string]any{
		"paymentId":               "P1",
		"pa_response_information": "00002MD00003abc",
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("challenge response: expected 200, got %d (%v)", status, body)
	}
	if body["orderId"] != "ORD-88" {
		t.Fatalf("unexpected challenge result %v", body)
	}
	details, _ := body["transactionDetails"].(map[string]any)
	if details["paymentMethod"] != "3DS Payment" || details["updateResult"] == nil || details["actionsResult"] == nil {
		t.Fatalf("unexpected transaction details %v", details)
	}
	if ob.count("insert") != 2 {
		t.Fatalf("expected two inserts, got %d", ob.count("insert"))
	}
}

func TestFlowExternalPaymentVerificationFailure(t *testing.T) {
	ob := newOrderBackend(t, loginReply(func(label string, _ backend.Request, _ int) stubReply {
		if label == "set" {
			return stubReply{body: data(map[string]any{
				"Payments": paymentRecords("P1", map[string]any{"external_payment_data": std("truncated")}),
			})}
		}
		return stubReply{status: http.StatusTeapot, body: map[string]any{"label": label}}
	}))
	app := newFlowApp(t, ob)
	app.login(t)

	status, _, body := app.post(t, "/processAdyenPayment", map[string]any{"paymentID": "P1", "externalData": `{"state":"full"}`}, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, body)
	}
	if body["success"] != false || body["externalDataSet"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if body["expectedData"] != `{"state":"full"}` || body["actualData"] != "truncated" {
		t.Fatalf("unexpected verification detail %v", body)
	}
	if ob.count("insert") != 0 {
		t.Fatalf("insert must not run after a verification failure")
	}
}

func TestFlowExternalPaymentValidation(t *testing.T) {
	ob := newOrderBackend(t, loginReply(func(label string, _ backend.Request, _ int) stubReply {
		return stubReply{status: http.StatusTeapot, body: map[string]any{"label": label}}
	}))
	app := newFlowApp(t, ob)
	app.login(t)

	status, _, body := app.post(t, "/processAdyenPayment", map[string]any{"paymentID": "P1"}, nil)
	if status != http.StatusBadRequest || body["error"] != "Missing externalData" {
		t.Fatalf("unexpected response %d %v", status, body)
	}
	if body["message"] == nil {
		t.Fatalf("expected explanatory message, got %v", body)
	}
}

func TestFlowTransactionReplaysIdempotentRequest(t *testing.T) {
	ob := newOrderBackend(t, loginReply(func(label string, _ backend.Request, _ int) stubReply {
		if label == "insert" {
			return stubReply{body: data(map[string]any{
				"Order::order_number": std("ORD-5"),
				"Payments":            paymentRecords("P1", nil),
			})}
		}
		return stubReply{status: http.StatusTeapot, body: map[string]any{"label": label}}
	}))
	app := newFlowApp(t, ob)
	app.login(t)

	headers := map[string]string{"Idempotency-Key": "retry-1"}
	status, _, first := app.post(t, "/transaction", map[string]any{"paymentID": "P1"}, headers)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, first)
	}
	status, header, second := app.post(t, "/transaction", map[string]any{"paymentID": "P1"}, headers)
	if status != http.StatusOK {
		t.Fatalf("expected replayed 200, got %d", status)
	}
	if header.Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected replay header")
	}
	if first["transactionId"] != second["transactionId"] {
		t.Fatalf("expected identical transaction ids, got %v and %v", first["transactionId"], second["transactionId"])
	}
	if ob.count("insert") != 1 {
		t.Fatalf("expected a single insert, got %d", ob.count("insert"))
	}
}
