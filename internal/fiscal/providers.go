package fiscal

import "time"

type ProviderSettings struct {
	Token          string
	Timeout        time.Duration
	FocusNFeURL    string
	NuvemFiscalURL string
	PlugNotasURL   string
	WebmaniaURL    string
}

// DefaultProviders builds every supported adapter; the issuer picks one per
// tenant at call time.
func DefaultProviders(s ProviderSettings) []Provider {
	return []Provider{
		NewFocusNFe(s.FocusNFeURL, s.Token, s.Timeout),
		NewNuvemFiscal(s.NuvemFiscalURL, s.Token, s.Timeout),
		NewPlugNotas(s.PlugNotasURL, s.Token, s.Timeout),
		NewWebmania(s.WebmaniaURL, s.Token, s.Timeout),
		NewMockProvider(),
	}
}
