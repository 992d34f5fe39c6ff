package fiscal

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Webmania authenticates with a bearer token and uses its own order-shaped
// payload where products and payments are parallel lists.
type Webmania struct {
	transport httpTransport
	token     string
}

func NewWebmania(baseURL string, token string, timeout time.Duration) *Webmania {
	return &Webmania{transport: newHTTPTransport(baseURL, timeout), token: token}
}

func (p *Webmania) Name() string {
	return ProviderWebmania
}

type webmaniaProduct struct {
	Nome       string `json:"nome"`
	Codigo     string `json:"codigo"`
	NCM        string `json:"ncm"`
	CFOP       string `json:"cfop"`
	Quantidade int    `json:"quantidade"`
	Unidade    string `json:"unidade"`
	Origem     int    `json:"origem"`
	Subtotal   amount `json:"subtotal"`
	Total      amount `json:"total"`
}

type webmaniaRequest struct {
	ID               string `json:"ID"`
	Operacao         int    `json:"operacao"`
	NaturezaOperacao string `json:"natureza_operacao"`
	Modelo           int    `json:"modelo"`
	Finalidade       int    `json:"finalidade"`
	Ambiente         int    `json:"ambiente"`
	Cliente          *struct {
		CPF          string `json:"cpf,omitempty"`
		CNPJ         string `json:"cnpj,omitempty"`
		NomeCompleto string `json:"nome_completo,omitempty"`
	} `json:"cliente,omitempty"`
	Produtos []webmaniaProduct `json:"produtos"`
	Pedido   struct {
		Presenca        int      `json:"presenca"`
		ModalidadeFrete int      `json:"modalidade_frete"`
		FormaPagamento  []string `json:"forma_pagamento"`
		ValorPagamento  []amount `json:"valor_pagamento"`
		Troco           amount   `json:"troco"`
		Total           amount   `json:"total"`
	} `json:"pedido"`
}

type webmaniaResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
	Motivo string `json:"motivo"`
	NFe    int64  `json:"nfe"`
	Serie  int64  `json:"serie"`
	Chave  string `json:"chave"`
	Recibo string `json:"recibo"`
	XML    string `json:"xml"`
	Danfe  string `json:"danfe"`
	QRCode string `json:"qrcode"`
	Error  string `json:"error"`
}

func (p *Webmania) Generate(ctx context.Context, req Request) (Response, error) {
	payload := webmaniaRequest{
		ID:               req.Reference,
		Operacao:         1,
		NaturezaOperacao: "Venda ao consumidor",
		Modelo:           2,
		Finalidade:       1,
		Ambiente:         req.Environment,
	}
	cpf, cnpj := recipientDocumentField(req.Recipient.Document)
	if cpf != "" || cnpj != "" {
		payload.Cliente = &struct {
			CPF          string `json:"cpf,omitempty"`
			CNPJ         string `json:"cnpj,omitempty"`
			NomeCompleto string `json:"nome_completo,omitempty"`
		}{CPF: cpf, CNPJ: cnpj, NomeCompleto: req.Recipient.Name}
	}
	for _, item := range req.Items {
		payload.Produtos = append(payload.Produtos, webmaniaProduct{
			Nome:       item.Description,
			Codigo:     item.Code,
			NCM:        item.NCM,
			CFOP:       item.CFOP,
			Quantidade: item.Qty,
			Unidade:    item.Unit,
			Origem:     0,
			Subtotal:   amount(item.UnitPrice),
			Total:      amount(item.Total),
		})
	}
	payload.Pedido.Presenca = 1
	payload.Pedido.ModalidadeFrete = 9
	for _, payment := range req.Payments {
		payload.Pedido.FormaPagamento = append(payload.Pedido.FormaPagamento, PaymentCode(payment.Method))
		payload.Pedido.ValorPagamento = append(payload.Pedido.ValorPagamento, amount(payment.Amount))
	}
	payload.Pedido.Troco = amount(req.Change)
	payload.Pedido.Total = amount(req.Total)

	reply, err := p.transport.postJSON(ctx, "/nfe/emissao/", payload, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+credential(req, p.token))
	})
	if err != nil {
		return Response{}, err
	}
	if !reply.ok() {
		return failure(reply), nil
	}

	var out webmaniaResponse
	if err := decodeReply(reply, &out); err != nil {
		return Response{}, err
	}
	if out.Error != "" || !strings.EqualFold(out.Status, "aprovado") {
		msg := out.Error
		if msg == "" {
			msg = out.Motivo
		}
		if msg == "" {
			msg = "status " + out.Status
		}
		return Response{Success: false, Error: msg, RawContent: string(reply.body)}, nil
	}
	return Response{
		Success:      true,
		Number:       formatInt(out.NFe),
		Series:       formatInt(out.Serie),
		AccessKey:    out.Chave,
		Protocol:     out.Recibo,
		Status:       out.Status,
		RawContent:   out.XML,
		PDFReference: out.Danfe,
		QRCodeURL:    out.QRCode,
	}, nil
}
