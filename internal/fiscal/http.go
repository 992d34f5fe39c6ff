package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// httpTransport is the JSON plumbing shared by the gateway adapters.
type httpTransport struct {
	baseURL string
	client  *http.Client
}

func newHTTPTransport(baseURL string, timeout time.Duration) httpTransport {
	return httpTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type rawReply struct {
	status int
	body   []byte
}

func (r rawReply) ok() bool {
	return r.status >= 200 && r.status < 300
}

// postJSON sends payload and returns the raw reply. A 401 becomes
// ErrAuthentication; other HTTP statuses are left to the adapter.
func (t httpTransport) postJSON(ctx context.Context, path string, payload any, authorize func(*http.Request)) (rawReply, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return rawReply{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return rawReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return rawReply{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return rawReply{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return rawReply{}, fmt.Errorf("%w (HTTP 401)", ErrAuthentication)
	}
	return rawReply{status: resp.StatusCode, body: raw}, nil
}

// failure turns a non-2xx reply into an unsuccessful Response.
func failure(reply rawReply) Response {
	msg := extractMessage(reply.body)
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", reply.status)
	} else {
		msg = fmt.Sprintf("HTTP %d: %s", reply.status, msg)
	}
	return Response{Success: false, Error: msg, RawContent: string(reply.body)}
}

func extractMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, key := range []string{"mensagem", "mensagem_sefaz", "message", "motivo", "error"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if msg, ok := v["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return ""
}

func decodeReply(reply rawReply, out any) error {
	if err := json.Unmarshal(reply.body, out); err != nil {
		return fmt.Errorf("resposta inválida do provedor: %w", err)
	}
	return nil
}

func recipientDocumentField(doc string) (cpf string, cnpj string) {
	switch len(doc) {
	case 11:
		return doc, ""
	case 14:
		return "", doc
	}
	return "", ""
}

func formatInt(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

// amount marshals as a bare JSON number with two decimal places.
type amount decimal.Decimal

func (a amount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).StringFixed(2)), nil
}

// numeric parses a digits-only field such as the IBGE code or series; blank
// or malformed input yields zero.
func numeric(val string) int {
	n, err := strconv.Atoi(digitsOnly(val))
	if err != nil {
		return 0
	}
	return n
}

// credential prefers the tenant token over the deployment default.
func credential(req Request, fallback string) string {
	if strings.TrimSpace(req.APIToken) != "" {
		return req.APIToken
	}
	return fallback
}
