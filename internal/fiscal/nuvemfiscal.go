package fiscal

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// NuvemFiscal authenticates with a bearer token.
type NuvemFiscal struct {
	transport httpTransport
	token     string
}

func NewNuvemFiscal(baseURL string, token string, timeout time.Duration) *NuvemFiscal {
	return &NuvemFiscal{transport: newHTTPTransport(baseURL, timeout), token: token}
}

func (p *NuvemFiscal) Name() string {
	return ProviderNuvemFiscal
}

type nuvemProd struct {
	CProd   string `json:"cProd"`
	XProd   string `json:"xProd"`
	NCM     string `json:"NCM"`
	CFOP    string `json:"CFOP"`
	UCom    string `json:"uCom"`
	QCom    int    `json:"qCom"`
	VUnCom  amount `json:"vUnCom"`
	VProd   amount `json:"vProd"`
	UTrib   string `json:"uTrib"`
	QTrib   int    `json:"qTrib"`
	VUnTrib amount `json:"vUnTrib"`
	IndTot  int    `json:"indTot"`
}

type nuvemDet struct {
	NItem int       `json:"nItem"`
	Prod  nuvemProd `json:"prod"`
}

type nuvemDetPag struct {
	TPag string `json:"tPag"`
	VPag amount `json:"vPag"`
}

type nuvemInfNFe struct {
	Versao string `json:"versao"`
	Ide    struct {
		CUF     int    `json:"cUF"`
		NatOp   string `json:"natOp"`
		Mod     int    `json:"mod"`
		Serie   int    `json:"serie"`
		DhEmi   string `json:"dhEmi"`
		TpNF    int    `json:"tpNF"`
		CMunFG  int    `json:"cMunFG"`
		TpImp   int    `json:"tpImp"`
		TpAmb   int    `json:"tpAmb"`
		IndPres int    `json:"indPres"`
	} `json:"ide"`
	Emit struct {
		CNPJ string `json:"CNPJ"`
		IE   string `json:"IE"`
	} `json:"emit"`
	Dest *struct {
		CPF   string `json:"CPF,omitempty"`
		CNPJ  string `json:"CNPJ,omitempty"`
		XNome string `json:"xNome,omitempty"`
	} `json:"dest,omitempty"`
	Det   []nuvemDet `json:"det"`
	Total struct {
		ICMSTot struct {
			VProd amount `json:"vProd"`
			VNF   amount `json:"vNF"`
		} `json:"ICMSTot"`
	} `json:"total"`
	Pag struct {
		DetPag []nuvemDetPag `json:"detPag"`
		VTroco amount        `json:"vTroco"`
	} `json:"pag"`
}

type nuvemRequest struct {
	Ambiente   string      `json:"ambiente"`
	Referencia string      `json:"referencia"`
	InfNFe     nuvemInfNFe `json:"infNFe"`
}

type nuvemResponse struct {
	ID          string `json:"id"`
	Ambiente    string `json:"ambiente"`
	Status      string `json:"status"`
	Numero      int64  `json:"numero"`
	Serie       int64  `json:"serie"`
	Chave       string `json:"chave"`
	Autorizacao struct {
		NumeroProtocolo string `json:"numero_protocolo"`
		MotivoStatus    string `json:"motivo_status"`
	} `json:"autorizacao"`
}

func (p *NuvemFiscal) Generate(ctx context.Context, req Request) (Response, error) {
	var inf nuvemInfNFe
	inf.Versao = "4.00"
	inf.Ide.CUF = stateCode(req.Emitter.State)
	inf.Ide.NatOp = "VENDA"
	inf.Ide.Mod = 65
	inf.Ide.Serie = numeric(req.Series)
	inf.Ide.DhEmi = req.IssuedAt.Format(time.RFC3339)
	inf.Ide.TpNF = 1
	inf.Ide.CMunFG = numeric(req.Emitter.MunicipalityCode)
	inf.Ide.TpImp = 4
	inf.Ide.TpAmb = req.Environment
	inf.Ide.IndPres = 1
	inf.Emit.CNPJ = req.Emitter.CNPJ
	inf.Emit.IE = req.Emitter.StateRegistration

	cpf, cnpj := recipientDocumentField(req.Recipient.Document)
	if cpf != "" || cnpj != "" {
		inf.Dest = &struct {
			CPF   string `json:"CPF,omitempty"`
			CNPJ  string `json:"CNPJ,omitempty"`
			XNome string `json:"xNome,omitempty"`
		}{CPF: cpf, CNPJ: cnpj, XNome: req.Recipient.Name}
	}

	for _, item := range req.Items {
		inf.Det = append(inf.Det, nuvemDet{
			NItem: item.Number,
			Prod: nuvemProd{
				CProd:   item.Code,
				XProd:   item.Description,
				NCM:     item.NCM,
				CFOP:    item.CFOP,
				UCom:    item.Unit,
				QCom:    item.Qty,
				VUnCom:  amount(item.UnitPrice),
				VProd:   amount(item.Total),
				UTrib:   item.Unit,
				QTrib:   item.Qty,
				VUnTrib: amount(item.UnitPrice),
				IndTot:  1,
			},
		})
	}
	inf.Total.ICMSTot.VProd = amount(req.Total)
	inf.Total.ICMSTot.VNF = amount(req.Total)
	for _, payment := range req.Payments {
		inf.Pag.DetPag = append(inf.Pag.DetPag, nuvemDetPag{TPag: PaymentCode(payment.Method), VPag: amount(payment.Amount)})
	}
	inf.Pag.VTroco = amount(req.Change)

	ambiente := "homologacao"
	if req.Environment == 1 {
		ambiente = "producao"
	}
	payload := nuvemRequest{Ambiente: ambiente, Referencia: req.Reference, InfNFe: inf}

	reply, err := p.transport.postJSON(ctx, "/nfce", payload, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+credential(req, p.token))
	})
	if err != nil {
		return Response{}, err
	}
	if !reply.ok() {
		return failure(reply), nil
	}

	var out nuvemResponse
	if err := decodeReply(reply, &out); err != nil {
		return Response{}, err
	}
	if !strings.EqualFold(out.Status, "autorizado") {
		msg := out.Autorizacao.MotivoStatus
		if msg == "" {
			msg = "status " + out.Status
		}
		return Response{Success: false, Error: msg, RawContent: string(reply.body)}, nil
	}
	return Response{
		Success:      true,
		Number:       formatInt(out.Numero),
		Series:       formatInt(out.Serie),
		AccessKey:    out.Chave,
		Protocol:     out.Autorizacao.NumeroProtocolo,
		Status:       out.Status,
		RawContent:   string(reply.body),
		PDFReference: p.transport.baseURL + "/nfce/" + out.ID + "/pdf",
	}, nil
}
