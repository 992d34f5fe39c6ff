package fiscal

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FocusNFe authenticates with HTTP Basic using the token as the user name
// and an empty password.
type FocusNFe struct {
	transport httpTransport
	token     string
}

func NewFocusNFe(baseURL string, token string, timeout time.Duration) *FocusNFe {
	return &FocusNFe{transport: newHTTPTransport(baseURL, timeout), token: token}
}

func (p *FocusNFe) Name() string {
	return ProviderFocusNFe
}

type focusItem struct {
	NumeroItem              int    `json:"numero_item"`
	CodigoProduto           string `json:"codigo_produto"`
	Descricao               string `json:"descricao"`
	CodigoNCM               string `json:"codigo_ncm"`
	CFOP                    string `json:"cfop"`
	UnidadeComercial        string `json:"unidade_comercial"`
	QuantidadeComercial     int    `json:"quantidade_comercial"`
	ValorUnitarioComercial  amount `json:"valor_unitario_comercial"`
	UnidadeTributavel       string `json:"unidade_tributavel"`
	QuantidadeTributavel    int    `json:"quantidade_tributavel"`
	ValorUnitarioTributavel amount `json:"valor_unitario_tributavel"`
	ValorBruto              amount `json:"valor_bruto"`
	ICMSOrigem              string `json:"icms_origem"`
	ICMSSituacaoTributaria  string `json:"icms_situacao_tributaria"`
}

type focusPayment struct {
	FormaPagamento string `json:"forma_pagamento"`
	ValorPagamento amount `json:"valor_pagamento"`
}

type focusRequest struct {
	CNPJEmitente      string         `json:"cnpj_emitente"`
	DataEmissao       string         `json:"data_emissao"`
	NaturezaOperacao  string         `json:"natureza_operacao"`
	PresencaComprador int            `json:"presenca_comprador"`
	ModalidadeFrete   int            `json:"modalidade_frete"`
	LocalDestino      int            `json:"local_destino"`
	NomeDestinatario  string         `json:"nome_destinatario,omitempty"`
	CPFDestinatario   string         `json:"cpf_destinatario,omitempty"`
	CNPJDestinatario  string         `json:"cnpj_destinatario,omitempty"`
	ValorTroco        amount         `json:"valor_troco"`
	Items             []focusItem    `json:"items"`
	FormasPagamento   []focusPayment `json:"formas_pagamento"`
}

type focusResponse struct {
	Status        string `json:"status"`
	StatusSefaz   string `json:"status_sefaz"`
	MensagemSefaz string `json:"mensagem_sefaz"`
	ChaveNFe      string `json:"chave_nfe"`
	Numero        string `json:"numero"`
	Serie         string `json:"serie"`
	Protocolo     string `json:"protocolo"`
	CaminhoXML    string `json:"caminho_xml_nota_fiscal"`
	CaminhoDANFE  string `json:"caminho_danfe"`
	QRCodeURL     string `json:"qrcode_url"`
}

func (p *FocusNFe) Generate(ctx context.Context, req Request) (Response, error) {
	cpf, cnpj := recipientDocumentField(req.Recipient.Document)
	payload := focusRequest{
		CNPJEmitente:      req.Emitter.CNPJ,
		DataEmissao:       req.IssuedAt.Format(time.RFC3339),
		NaturezaOperacao:  "VENDA AO CONSUMIDOR",
		PresencaComprador: 1,
		ModalidadeFrete:   9,
		LocalDestino:      1,
		NomeDestinatario:  req.Recipient.Name,
		CPFDestinatario:   cpf,
		CNPJDestinatario:  cnpj,
		ValorTroco:        amount(req.Change),
	}
	for _, item := range req.Items {
		payload.Items = append(payload.Items, focusItem{
			NumeroItem:              item.Number,
			CodigoProduto:           item.Code,
			Descricao:               item.Description,
			CodigoNCM:               item.NCM,
			CFOP:                    item.CFOP,
			UnidadeComercial:        item.Unit,
			QuantidadeComercial:     item.Qty,
			ValorUnitarioComercial:  amount(item.UnitPrice),
			UnidadeTributavel:       item.Unit,
			QuantidadeTributavel:    item.Qty,
			ValorUnitarioTributavel: amount(item.UnitPrice),
			ValorBruto:              amount(item.Total),
			ICMSOrigem:              "0",
			ICMSSituacaoTributaria:  "102",
		})
	}
	for _, payment := range req.Payments {
		payload.FormasPagamento = append(payload.FormasPagamento, focusPayment{
			FormaPagamento: PaymentCode(payment.Method),
			ValorPagamento: amount(payment.Amount),
		})
	}

	path := "/v2/nfce?ref=" + url.QueryEscape(req.Reference)
	reply, err := p.transport.postJSON(ctx, path, payload, func(r *http.Request) {
		r.SetBasicAuth(credential(req, p.token), "")
	})
	if err != nil {
		return Response{}, err
	}
	if !reply.ok() {
		return failure(reply), nil
	}

	var out focusResponse
	if err := decodeReply(reply, &out); err != nil {
		return Response{}, err
	}
	if !strings.EqualFold(out.Status, "autorizado") {
		msg := out.MensagemSefaz
		if msg == "" {
			msg = "status " + out.Status
		}
		return Response{Success: false, Error: msg, RawContent: string(reply.body)}, nil
	}
	return Response{
		Success:      true,
		Number:       out.Numero,
		Series:       out.Serie,
		AccessKey:    strings.TrimPrefix(out.ChaveNFe, "NFe"),
		Protocol:     out.Protocolo,
		Status:       out.Status,
		RawContent:   out.CaminhoXML,
		PDFReference: out.CaminhoDANFE,
		QRCodeURL:    out.QRCodeURL,
	}, nil
}
