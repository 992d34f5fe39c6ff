package fiscal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"caixafacil/backend/internal/domain"
)

// PlugNotas authenticates with the x-api-key header and accepts a batch of
// documents per request; one sale is always sent as a batch of one.
type PlugNotas struct {
	transport httpTransport
	apiKey    string
}

func NewPlugNotas(baseURL string, apiKey string, timeout time.Duration) *PlugNotas {
	return &PlugNotas{transport: newHTTPTransport(baseURL, timeout), apiKey: apiKey}
}

func (p *PlugNotas) Name() string {
	return ProviderPlugNotas
}

type plugItem struct {
	Codigo        string `json:"codigo"`
	Descricao     string `json:"descricao"`
	NCM           string `json:"ncm"`
	CFOP          string `json:"cfop"`
	Unidade       string `json:"unidade"`
	Quantidade    int    `json:"quantidade"`
	ValorUnitario struct {
		Comercial  amount `json:"comercial"`
		Tributavel amount `json:"tributavel"`
	} `json:"valorUnitario"`
	Valor    amount `json:"valor"`
	Tributos struct {
		ICMS struct {
			Origem string `json:"origem"`
			CST    string `json:"cst"`
		} `json:"icms"`
	} `json:"tributos"`
}

type plugPayment struct {
	AVista bool   `json:"aVista"`
	Meio   string `json:"meio"`
	Valor  amount `json:"valor"`
}

type plugDocument struct {
	IDIntegracao string `json:"idIntegracao"`
	Presencial   bool   `json:"presencial"`
	Emitente     struct {
		CPFCNPJ string `json:"cpfCnpj"`
	} `json:"emitente"`
	Destinatario *struct {
		CPFCNPJ string `json:"cpfCnpj"`
		Nome    string `json:"razaoSocial,omitempty"`
	} `json:"destinatario,omitempty"`
	Itens      []plugItem    `json:"itens"`
	Pagamentos []plugPayment `json:"pagamentos"`
}

type plugResponse struct {
	Message   string `json:"message"`
	Protocol  string `json:"protocol"`
	Documents []struct {
		IDIntegracao string `json:"idIntegracao"`
		ID           string `json:"id"`
		Status       string `json:"status"`
		Chave        string `json:"chave"`
		Numero       string `json:"numero"`
		Serie        string `json:"serie"`
		Protocolo    string `json:"protocolo"`
		PDF          string `json:"pdf"`
		QRCode       string `json:"qrCode"`
		Mensagem     string `json:"mensagem"`
	} `json:"documents"`
}

func (p *PlugNotas) Generate(ctx context.Context, req Request) (Response, error) {
	doc := plugDocument{IDIntegracao: req.Reference, Presencial: true}
	doc.Emitente.CPFCNPJ = req.Emitter.CNPJ
	if req.Recipient.Document != "" {
		doc.Destinatario = &struct {
			CPFCNPJ string `json:"cpfCnpj"`
			Nome    string `json:"razaoSocial,omitempty"`
		}{CPFCNPJ: req.Recipient.Document, Nome: req.Recipient.Name}
	}
	for _, item := range req.Items {
		var it plugItem
		it.Codigo = item.Code
		it.Descricao = item.Description
		it.NCM = item.NCM
		it.CFOP = item.CFOP
		it.Unidade = item.Unit
		it.Quantidade = item.Qty
		it.ValorUnitario.Comercial = amount(item.UnitPrice)
		it.ValorUnitario.Tributavel = amount(item.UnitPrice)
		it.Valor = amount(item.Total)
		it.Tributos.ICMS.Origem = "0"
		it.Tributos.ICMS.CST = "102"
		doc.Itens = append(doc.Itens, it)
	}
	for _, payment := range req.Payments {
		doc.Pagamentos = append(doc.Pagamentos, plugPayment{
			AVista: payment.Method != domain.PaymentInstallment,
			Meio:   PaymentCode(payment.Method),
			Valor:  amount(payment.Amount),
		})
	}

	reply, err := p.transport.postJSON(ctx, "/nfce", []plugDocument{doc}, func(r *http.Request) {
		r.Header.Set("x-api-key", credential(req, p.apiKey))
	})
	if err != nil {
		return Response{}, err
	}
	if !reply.ok() {
		return failure(reply), nil
	}

	var out plugResponse
	if err := decodeReply(reply, &out); err != nil {
		return Response{}, err
	}
	if len(out.Documents) == 0 {
		return Response{}, errors.New("resposta sem documentos")
	}
	first := out.Documents[0]
	status := strings.ToUpper(first.Status)
	if status != "CONCLUIDO" && status != "AUTORIZADO" {
		msg := first.Mensagem
		if msg == "" {
			msg = "documento em processamento: " + first.ID
		}
		return Response{Success: false, Error: msg, RawContent: string(reply.body)}, nil
	}
	protocol := first.Protocolo
	if protocol == "" {
		protocol = out.Protocol
	}
	return Response{
		Success:      true,
		Number:       first.Numero,
		Series:       first.Serie,
		AccessKey:    first.Chave,
		Protocol:     protocol,
		Status:       first.Status,
		RawContent:   string(reply.body),
		PDFReference: first.PDF,
		QRCodeURL:    first.QRCode,
	}, nil
}
