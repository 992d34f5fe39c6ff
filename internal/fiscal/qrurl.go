package fiscal

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrUnsupportedState = errors.New("UF sem endereço de consulta NFC-e cadastrado")

type consultEndpoints struct {
	qrProduction  string
	qrHomolog     string
	keyProduction string
	keyHomolog    string
}

var stateEndpoints = map[string]consultEndpoints{
	"SP": {
		qrProduction:  "https://www.nfce.fazenda.sp.gov.br/NFCeConsultaPublica/Paginas/ConsultaQRCode.aspx",
		qrHomolog:     "https://www.homologacao.nfce.fazenda.sp.gov.br/NFCeConsultaPublica/Paginas/ConsultaQRCode.aspx",
		keyProduction: "https://www.nfce.fazenda.sp.gov.br/consulta",
		keyHomolog:    "https://www.homologacao.nfce.fazenda.sp.gov.br/consulta",
	},
	"MG": {
		qrProduction:  "https://portalsped.fazenda.mg.gov.br/portalnfce/sistema/qrcode.xhtml",
		qrHomolog:     "https://hportalsped.fazenda.mg.gov.br/portalnfce/sistema/qrcode.xhtml",
		keyProduction: "https://portalsped.fazenda.mg.gov.br/portalnfce",
		keyHomolog:    "https://hportalsped.fazenda.mg.gov.br/portalnfce",
	},
	"RJ": {
		qrProduction:  "https://consultadfe.fazenda.rj.gov.br/consultaNFCe/QRCode",
		qrHomolog:     "https://consultadfe.fazenda.rj.gov.br/consultaNFCe/QRCode",
		keyProduction: "https://www.fazenda.rj.gov.br/nfce/consulta",
		keyHomolog:    "https://www.fazenda.rj.gov.br/nfce/consulta",
	},
	"PR": {
		qrProduction:  "http://www.fazenda.pr.gov.br/nfce/qrcode",
		qrHomolog:     "http://www.fazenda.pr.gov.br/nfce/qrcode",
		keyProduction: "http://www.fazenda.pr.gov.br/nfce/consulta",
		keyHomolog:    "http://www.fazenda.pr.gov.br/nfce/consulta",
	},
	"RS": {
		qrProduction:  "https://www.sefaz.rs.gov.br/NFCE/NFCE-COM.aspx",
		qrHomolog:     "https://www.sefaz.rs.gov.br/NFCE/NFCE-COM.aspx",
		keyProduction: "https://www.sefaz.rs.gov.br/NFCE/NFCE-COM.aspx",
		keyHomolog:    "https://www.sefaz.rs.gov.br/NFCE/NFCE-COM.aspx",
	},
	"SC": {
		qrProduction:  "https://sat.sef.sc.gov.br/nfce/consulta",
		qrHomolog:     "https://hom.sat.sef.sc.gov.br/nfce/consulta",
		keyProduction: "https://sat.sef.sc.gov.br/nfce/consulta",
		keyHomolog:    "https://hom.sat.sef.sc.gov.br/nfce/consulta",
	},
	"BA": {
		qrProduction:  "http://nfe.sefaz.ba.gov.br/servicos/nfce/qrcode.aspx",
		qrHomolog:     "http://hnfe.sefaz.ba.gov.br/servicos/nfce/qrcode.aspx",
		keyProduction: "http://www.sefaz.ba.gov.br/nfce/consulta",
		keyHomolog:    "http://hinternet.sefaz.ba.gov.br/nfce/consulta",
	},
}

// BuildQRCodeURL assembles the online-emission NFC-e QR code (layout v2):
// p=chave|2|tpAmb|idCSC|SHA1(chave|2|tpAmb|idCSC + CSC).
func BuildQRCodeURL(uf string, accessKey string, tpAmb int, cscID string, cscToken string) (string, error) {
	endpoints, ok := stateEndpoints[strings.ToUpper(strings.TrimSpace(uf))]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedState, uf)
	}
	if len(accessKey) != accessKeyLength {
		return "", fmt.Errorf("chave de acesso deve ter %d dígitos", accessKeyLength)
	}
	id, err := strconv.Atoi(strings.TrimSpace(cscID))
	if err != nil || id <= 0 {
		return "", errors.New("identificador do CSC inválido")
	}
	if strings.TrimSpace(cscToken) == "" {
		return "", errors.New("CSC ausente")
	}

	params := fmt.Sprintf("%s|2|%d|%d", accessKey, tpAmb, id)
	sum := sha1.Sum([]byte(params + cscToken))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))

	base := endpoints.qrProduction
	if tpAmb != 1 {
		base = endpoints.qrHomolog
	}
	return base + "?p=" + params + "|" + hash, nil
}

// ConsultURL is the address printed for manual lookup by access key.
func ConsultURL(uf string, tpAmb int) string {
	endpoints, ok := stateEndpoints[strings.ToUpper(strings.TrimSpace(uf))]
	if !ok {
		return ""
	}
	if tpAmb == 1 {
		return endpoints.keyProduction
	}
	return endpoints.keyHomolog
}
