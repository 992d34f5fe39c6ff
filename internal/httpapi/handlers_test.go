package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/fiscal"
	"caixafacil/backend/internal/metrics"
	"caixafacil/backend/internal/printing"
	"caixafacil/backend/internal/receipt"
	"caixafacil/backend/internal/service"
	"caixafacil/backend/internal/store/memory"
)

type spoolerStub struct {
	host []printing.HostPrinter
}

func (s spoolerStub) List(context.Context) ([]printing.HostPrinter, error) {
	return s.host, nil
}

func (s spoolerStub) Status(context.Context, string) (printing.DeviceStatus, error) {
	return printing.DeviceStatus{Online: true}, nil
}

func (s spoolerStub) Send(context.Context, string, []byte) error {
	return nil
}

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T, hostPrinters ...string) *API {
	t.Helper()

	repo := memory.NewSeeded(nil)
	spooler := spoolerStub{}
	for i, name := range hostPrinters {
		spooler.host = append(spooler.host, printing.HostPrinter{Name: name, IsDefault: i == 0})
	}
	m := metrics.New()
	svc := service.New(service.Dependencies{
		Repo:      repo,
		Issuer:    fiscal.NewIssuer(repo, []fiscal.Provider{fiscal.NewMockProvider()}, fiscal.ProviderMock, "homologacao", nil),
		Formatter: receipt.NewFormatter(receipt.DefaultWidth, receipt.DefaultTimezone, nil),
		Printer:   printing.NewDispatcher(printing.NewMemoryClientRegistry(8, time.Minute), repo, spooler, nil),
		Metrics:   m,
	})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	return New(svc, auth, "*", m.Handler(), nil)
}

func loginAsSeller(t *testing.T, api *API) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Email: "vendedor@demo.com.br", Password: "vendedor123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("seller login failed, status %d (body: %s)", res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	if payload.TenantID != memory.DemoTenantID || payload.SellerID != memory.DemoSellerID {
		t.Fatalf("unexpected login identity: %+v", payload)
	}
	return payload.AccessToken
}

func doJSON(t *testing.T, api *API, method string, path string, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

const refriCashSale = `{"items":[{"productId":"prod-refri","quantity":2}],"paymentMethods":[{"method":"cash","amount":25.00}]}`

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/healthz", "", "")

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidPassword(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", `{"email":"vendedor@demo.com.br","password":"errada"}`)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestCreateSaleReturnsCommittedSale(t *testing.T) {
	api := newTestAPI(t, "caixa")
	token := loginAsSeller(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sale", token, refriCashSale)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body domain.SaleResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Sale.TotalCents != 2100 || body.Sale.ChangeCents != 400 {
		t.Fatalf("unexpected totals: %+v", body.Sale)
	}
	if body.Fiscal == nil || body.Fiscal.Kind != domain.FiscalKindNFCe {
		t.Fatalf("expected nfce summary, got %+v", body.Fiscal)
	}
	if body.Print == nil || !body.Print.Success || body.Print.Printer != "caixa" {
		t.Fatalf("expected printed receipt, got %+v", body.Print)
	}
}

func TestCreateSaleErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"amount mismatch", `{"items":[{"productId":"prod-refri","quantity":2}],"paymentMethods":[{"method":"cash","amount":10}]}`, http.StatusBadRequest},
		{"invalid quantity", `{"items":[{"productId":"prod-refri","quantity":0}],"paymentMethods":[{"method":"cash","amount":10}]}`, http.StatusBadRequest},
		{"unknown field", `{"items":[],"desconto":5}`, http.StatusBadRequest},
		{"unknown product", `{"items":[{"productId":"nao-existe","quantity":1}],"paymentMethods":[{"method":"cash","amount":10}]}`, http.StatusNotFound},
		{"insufficient stock", `{"items":[{"productId":"prod-refri","quantity":500}],"paymentMethods":[{"method":"cash","amount":5250}]}`, http.StatusConflict},
	}
	api := newTestAPI(t, "caixa")
	token := loginAsSeller(t, api)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := doJSON(t, api, http.MethodPost, "/api/v1/sale", token, tc.body)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, res.Code, res.Body.String())
			}
		})
	}
}

func TestCreateSaleFiscalPrintFailureReturns424WithSale(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsSeller(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/sale", token, refriCashSale)

	if res.Code != http.StatusFailedDependency {
		t.Fatalf("expected 424, got %d (body: %s)", res.Code, res.Body.String())
	}
	var body struct {
		Error string             `json:"error"`
		Sale  domain.Sale        `json:"sale"`
		Print domain.PrintResult `json:"print"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Sale.ID == "" || body.Error == "" {
		t.Fatalf("expected committed sale and error, got %+v", body)
	}
	if body.Print.Code != printing.CodeNoPrinterAvailable {
		t.Fatalf("expected NO_PRINTER_AVAILABLE, got %q", body.Print.Code)
	}

	get := doJSON(t, api, http.MethodGet, "/api/v1/sale/"+body.Sale.ID, token, "")
	if get.Code != http.StatusOK {
		t.Fatalf("sale must remain readable, got %d", get.Code)
	}
}

func TestReprintHandlers(t *testing.T) {
	api := newTestAPI(t, "caixa")
	token := loginAsSeller(t, api)

	missing := doJSON(t, api, http.MethodPost, "/api/v1/sale/sale_nao_existe/reprint", token, "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}

	created := doJSON(t, api, http.MethodPost, "/api/v1/sale", token, refriCashSale)
	var sale domain.SaleResponse
	if err := json.NewDecoder(created.Body).Decode(&sale); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	res := doJSON(t, api, http.MethodPost, "/api/v1/sale/"+sale.Sale.ID+"/reprint", token, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var reprinted domain.SaleResponse
	if err := json.NewDecoder(res.Body).Decode(&reprinted); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !reprinted.Fiscal.Reused || reprinted.Fiscal.AccessKey != sale.Fiscal.AccessKey {
		t.Fatalf("expected reused document, got %+v", reprinted.Fiscal)
	}

	withBody := doJSON(t, api, http.MethodPost, "/api/v1/sale/"+sale.Sale.ID+"/reprint", token, `{"clientId":"pc-1","timezone":"America/Manaus"}`)
	if withBody.Code != http.StatusOK {
		t.Fatalf("expected 200 with body, got %d", withBody.Code)
	}
}

func TestPrinterHandlers(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsSeller(t, api)

	created := doJSON(t, api, http.MethodPost, "/api/v1/printers", token, `{"name":"Balcao","connection":"balcao_raw"}`)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", created.Code, created.Body.String())
	}
	duplicate := doJSON(t, api, http.MethodPost, "/api/v1/printers", token, `{"name":"balcao"}`)
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", duplicate.Code)
	}

	list := doJSON(t, api, http.MethodGet, "/api/v1/printers", token, "")
	var payload struct {
		Printers []domain.RegisteredPrinter `json:"printers"`
	}
	if err := json.NewDecoder(list.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(payload.Printers) != 1 || payload.Printers[0].Connection != "balcao_raw" {
		t.Fatalf("unexpected printers: %+v", payload.Printers)
	}

	clients := doJSON(t, api, http.MethodPost, "/api/v1/printers/clients/pc-caixa-1", token, `{"printers":[{"name":"elgin","is_default":true,"online":true}]}`)
	if clients.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", clients.Code, clients.Body.String())
	}

	res := doJSON(t, api, http.MethodPost, "/api/v1/sale", token, `{"items":[{"productId":"prod-refri","quantity":1}],"paymentMethods":[{"method":"pix","amount":"10.50"}],"clientId":"pc-caixa-1"}`)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var sale domain.SaleResponse
	if err := json.NewDecoder(res.Body).Decode(&sale); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if sale.Print.Tier != printing.TierClient {
		t.Fatalf("expected client tier, got %+v", sale.Print)
	}
}

func TestMetricsEndpointCountsSales(t *testing.T) {
	api := newTestAPI(t, "caixa")
	token := loginAsSeller(t, api)
	if res := doJSON(t, api, http.MethodPost, "/api/v1/sale", token, refriCashSale); res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.Code)
	}

	res := doJSON(t, api, http.MethodGet, "/metrics", "", "")

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	text := res.Body.String()
	if !strings.Contains(text, "caixafacil_sales_total 1") {
		t.Fatalf("expected sales counter, got:\n%s", text)
	}
	if !strings.Contains(text, `caixafacil_print_jobs_total{code="OK",tier="host"} 1`) {
		t.Fatalf("expected print job counter, got:\n%s", text)
	}
}
