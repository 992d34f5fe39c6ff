package printing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/store/memory"
)

type fakeSpooler struct {
	host    []HostPrinter
	listErr error
	offline map[string]string
	sendErr error
	sent    map[string][]byte
}

func (f *fakeSpooler) List(context.Context) ([]HostPrinter, error) {
	return f.host, f.listErr
}

func (f *fakeSpooler) Status(_ context.Context, queue string) (DeviceStatus, error) {
	if detail, ok := f.offline[queue]; ok {
		return DeviceStatus{Online: false, Detail: detail}, nil
	}
	return DeviceStatus{Online: true}, nil
}

func (f *fakeSpooler) Send(_ context.Context, queue string, content []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.sent == nil {
		f.sent = make(map[string][]byte)
	}
	f.sent[queue] = content
	return nil
}

func newDispatcher(t *testing.T, spooler *fakeSpooler) (*Dispatcher, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return NewDispatcher(NewMemoryClientRegistry(8, time.Minute), repo, spooler, nil), repo
}

func TestDispatchWithoutAnyPrinterReportsNoPrinterAvailable(t *testing.T) {
	dispatcher, _ := newDispatcher(t, &fakeSpooler{})

	result := dispatcher.Dispatch(context.Background(), Job{TenantID: "t1", Content: []byte("x")})

	assert.False(t, result.Success)
	assert.Equal(t, CodeNoPrinterAvailable, result.Code)
	assert.Empty(t, result.Tier)
	assert.NotEmpty(t, result.Reason)
}

func TestDispatchPrefersClientDefaultOnlinePrinter(t *testing.T) {
	spooler := &fakeSpooler{host: []HostPrinter{{Name: "host-1", IsDefault: true}}}
	dispatcher, repo := newDispatcher(t, spooler)
	ctx := context.Background()
	_, err := repo.CreatePrinter(ctx, domain.RegisteredPrinter{TenantID: "t1", Name: "Balcao"})
	require.NoError(t, err)

	require.NoError(t, dispatcher.RegisterClientPrinters(ctx, "t1", "caixa-1", []domain.ClientPrinter{
		{Name: "epson-off", IsDefault: true, Online: false},
		{Name: "bematech", Online: true},
		{Name: "elgin", IsDefault: true, Online: true},
	}))

	result := dispatcher.Dispatch(ctx, Job{TenantID: "t1", ClientID: "caixa-1", Content: []byte("cupom")})

	require.True(t, result.Success, result.Reason)
	assert.Equal(t, CodeOK, result.Code)
	assert.Equal(t, TierClient, result.Tier)
	assert.Equal(t, "elgin", result.Printer)
	assert.Equal(t, []byte("cupom"), spooler.sent["elgin"])
}

func TestDispatchFallsBackToAnyOnlineClientPrinter(t *testing.T) {
	dispatcher, _ := newDispatcher(t, &fakeSpooler{})
	ctx := context.Background()
	require.NoError(t, dispatcher.RegisterClientPrinters(ctx, "t1", "caixa-1", []domain.ClientPrinter{
		{Name: "epson", IsDefault: true, Online: false},
		{Name: "bematech", Online: true},
	}))

	result := dispatcher.Dispatch(ctx, Job{TenantID: "t1", ClientID: "caixa-1"})

	assert.Equal(t, TierClient, result.Tier)
	assert.Equal(t, "bematech", result.Printer)
}

func TestDispatchUsesRegisteredPrinterAndTouchesIt(t *testing.T) {
	spooler := &fakeSpooler{host: []HostPrinter{{Name: "host-1", IsDefault: true}}}
	dispatcher, repo := newDispatcher(t, spooler)
	ctx := context.Background()
	_, err := repo.CreatePrinter(ctx, domain.RegisteredPrinter{TenantID: "t1", Name: "Balcao", Connection: "balcao_raw"})
	require.NoError(t, err)

	// an unknown client device falls through to the tenant printers
	result := dispatcher.Dispatch(ctx, Job{TenantID: "t1", ClientID: "nunca-registrado", Content: []byte("x")})

	require.True(t, result.Success, result.Reason)
	assert.Equal(t, TierRegistered, result.Tier)
	assert.Equal(t, "Balcao", result.Printer)
	assert.Contains(t, spooler.sent, "balcao_raw")

	printers, err := repo.ListPrinters(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, printers, 1)
	assert.NotNil(t, printers[0].LastUsedAt)
}

func TestDispatchSkipsDisconnectedRegisteredPrinters(t *testing.T) {
	spooler := &fakeSpooler{host: []HostPrinter{{Name: "host-a"}, {Name: "host-b", IsDefault: true}}}
	dispatcher, repo := newDispatcher(t, spooler)
	ctx := context.Background()
	_, err := repo.CreatePrinter(ctx, domain.RegisteredPrinter{TenantID: "t1", Name: "Velha", Status: domain.PrinterStatusDisconnected})
	require.NoError(t, err)

	result := dispatcher.Dispatch(ctx, Job{TenantID: "t1"})

	assert.Equal(t, TierHost, result.Tier)
	assert.Equal(t, "host-b", result.Printer)
}

func TestDispatchHostFallsBackToFirstPrinter(t *testing.T) {
	dispatcher, _ := newDispatcher(t, &fakeSpooler{host: []HostPrinter{{Name: "host-a"}, {Name: "host-b"}}})

	result := dispatcher.Dispatch(context.Background(), Job{TenantID: "t1"})

	assert.Equal(t, TierHost, result.Tier)
	assert.Equal(t, "host-a", result.Printer)
}

func TestDispatchHostEnumerationErrorMeansNoPrinter(t *testing.T) {
	dispatcher, _ := newDispatcher(t, &fakeSpooler{listErr: errors.New("cups down")})

	result := dispatcher.Dispatch(context.Background(), Job{TenantID: "t1"})

	assert.Equal(t, CodeNoPrinterAvailable, result.Code)
}

func TestDispatchOfflineTargetDoesNotTryNextTier(t *testing.T) {
	spooler := &fakeSpooler{
		host:    []HostPrinter{{Name: "host-1", IsDefault: true}},
		offline: map[string]string{"Balcao": "paper out"},
	}
	dispatcher, repo := newDispatcher(t, spooler)
	ctx := context.Background()
	_, err := repo.CreatePrinter(ctx, domain.RegisteredPrinter{TenantID: "t1", Name: "Balcao"})
	require.NoError(t, err)

	result := dispatcher.Dispatch(ctx, Job{TenantID: "t1", Content: []byte("x")})

	assert.False(t, result.Success)
	assert.Equal(t, CodePrinterOffline, result.Code)
	assert.Equal(t, TierRegistered, result.Tier)
	assert.Contains(t, result.Reason, "paper out")
	assert.Empty(t, spooler.sent)
}

func TestDispatchTransmissionFailure(t *testing.T) {
	spooler := &fakeSpooler{host: []HostPrinter{{Name: "host-1"}}, sendErr: errors.New("broken pipe")}
	dispatcher, _ := newDispatcher(t, spooler)

	result := dispatcher.Dispatch(context.Background(), Job{TenantID: "t1", Content: []byte("x")})

	assert.False(t, result.Success)
	assert.Equal(t, CodePrintTransmissionFailed, result.Code)
	assert.Equal(t, "host-1", result.Printer)
	assert.Contains(t, result.Reason, "broken pipe")
}

func TestMemoryClientRegistryExpiresEntries(t *testing.T) {
	registry := NewMemoryClientRegistry(4, time.Minute)
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, registry.Put(ctx, "t1", "c1", []domain.ClientPrinter{{Name: "p", Online: true}}))
	printers, ok, err := registry.Get(ctx, "t1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, printers, 1)

	now = now.Add(2 * time.Minute)
	_, ok, err = registry.Get(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, registry.Len())
}

func TestMemoryClientRegistryEvictsStalest(t *testing.T) {
	registry := NewMemoryClientRegistry(2, time.Hour)
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, registry.Put(ctx, "t1", id, nil))
		now = now.Add(time.Second)
	}

	assert.Equal(t, 2, registry.Len())
	_, ok, _ := registry.Get(ctx, "t1", "c1")
	assert.False(t, ok)
	_, ok, _ = registry.Get(ctx, "t1", "c3")
	assert.True(t, ok)
}

func TestMemoryClientRegistryReplacesWithoutEvicting(t *testing.T) {
	registry := NewMemoryClientRegistry(1, time.Hour)
	ctx := context.Background()

	require.NoError(t, registry.Put(ctx, "t1", "c1", []domain.ClientPrinter{{Name: "a"}}))
	require.NoError(t, registry.Put(ctx, "t1", "c1", []domain.ClientPrinter{{Name: "b"}}))

	printers, ok, err := registry.Get(ctx, "t1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", printers[0].Name)
}

func TestMemoryClientRegistryScopesByTenant(t *testing.T) {
	registry := NewMemoryClientRegistry(4, time.Hour)
	ctx := context.Background()

	require.NoError(t, registry.Put(ctx, "t1", "caixa-1", []domain.ClientPrinter{{Name: "elgin"}}))
	require.NoError(t, registry.Put(ctx, "t2", "caixa-1", []domain.ClientPrinter{{Name: "bematech"}}))

	printers, ok, err := registry.Get(ctx, "t1", "caixa-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "elgin", printers[0].Name)
	_, ok, _ = registry.Get(ctx, "t3", "caixa-1")
	assert.False(t, ok)
	assert.Equal(t, 2, registry.Len())
}

func TestDispatchIgnoresClientPrintersOfOtherTenant(t *testing.T) {
	spooler := &fakeSpooler{host: []HostPrinter{{Name: "host-1", IsDefault: true}}}
	dispatcher, _ := newDispatcher(t, spooler)
	ctx := context.Background()
	require.NoError(t, dispatcher.RegisterClientPrinters(ctx, "t1", "caixa-1", []domain.ClientPrinter{
		{Name: "elgin", IsDefault: true, Online: true},
	}))

	result := dispatcher.Dispatch(ctx, Job{TenantID: "t2", ClientID: "caixa-1", Content: []byte("cupom")})

	require.True(t, result.Success, result.Reason)
	assert.Equal(t, TierHost, result.Tier)
	assert.Equal(t, "host-1", result.Printer)
	assert.Empty(t, spooler.sent["elgin"])
}

func TestCUPSSpoolerParsesLpstat(t *testing.T) {
	var calls []string
	spooler := &CUPSSpooler{run: func(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		calls = append(calls, name+" "+strings.Join(args, " "))
		switch {
		case name == "lpstat" && len(args) == 1 && args[0] == "-p":
			return []byte("printer balcao is idle.  enabled since Mon 10 Jan\nprinter cozinha disabled since Mon 10 Jan -\n\tPaused\n"), nil
		case name == "lpstat" && args[0] == "-d":
			return []byte("system default destination: cozinha\n"), nil
		case name == "lpstat" && args[0] == "-p" && args[1] == "cozinha":
			return []byte("printer cozinha disabled since Mon 10 Jan -\n\tPaused\n"), nil
		case name == "lpstat" && args[0] == "-p":
			return []byte("printer balcao is idle.  enabled since Mon 10 Jan\n"), nil
		case name == "lp":
			if string(stdin) != "payload" {
				return nil, errors.New("unexpected payload")
			}
			return []byte("request id is balcao-1 (1 file(s))\n"), nil
		}
		return nil, errors.New("unexpected command")
	}}
	ctx := context.Background()

	printers, err := spooler.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []HostPrinter{{Name: "balcao"}, {Name: "cozinha", IsDefault: true}}, printers)

	status, err := spooler.Status(ctx, "balcao")
	require.NoError(t, err)
	assert.True(t, status.Online)

	status, err = spooler.Status(ctx, "cozinha")
	require.NoError(t, err)
	assert.False(t, status.Online)

	require.NoError(t, spooler.Send(ctx, "balcao", []byte("payload")))
	assert.Contains(t, calls, "lp -d balcao -o raw")
}

func TestCUPSSpoolerEmptyHost(t *testing.T) {
	spooler := &CUPSSpooler{run: func(context.Context, []byte, string, ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}}

	printers, err := spooler.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, printers)
}
