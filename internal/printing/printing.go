package printing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"caixafacil/backend/internal/domain"
)

const (
	CodeOK                      = "OK"
	CodeNoPrinterAvailable      = "NO_PRINTER_AVAILABLE"
	CodePrinterOffline          = "PRINTER_OFFLINE"
	CodePrintTransmissionFailed = "PRINT_TRANSMISSION_FAILED"
)

const (
	TierClient     = "client"
	TierRegistered = "registered"
	TierHost       = "host"
)

type ClientRegistry interface {
	Put(ctx context.Context, tenantID string, clientID string, printers []domain.ClientPrinter) error
	Get(ctx context.Context, tenantID string, clientID string) ([]domain.ClientPrinter, bool, error)
}

type PrinterStore interface {
	ListPrinters(ctx context.Context, tenantID string) ([]domain.RegisteredPrinter, error)
	TouchPrinter(ctx context.Context, tenantID string, printerID string, at time.Time) error
}

type HostPrinter struct {
	Name      string
	IsDefault bool
}

type DeviceStatus struct {
	Online bool
	Detail string
}

// Spooler is the operating system print boundary.
type Spooler interface {
	List(ctx context.Context) ([]HostPrinter, error)
	Status(ctx context.Context, queue string) (DeviceStatus, error)
	Send(ctx context.Context, queue string, content []byte) error
}

type Target struct {
	Tier      string
	Name      string
	Queue     string
	PrinterID string
}

type Job struct {
	TenantID string
	ClientID string
	Content  []byte
}

type Dispatcher struct {
	clients  ClientRegistry
	printers PrinterStore
	spooler  Spooler
	logger   *zap.Logger
	now      func() time.Time
}

func NewDispatcher(clients ClientRegistry, printers PrinterStore, spooler Spooler, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		clients:  clients,
		printers: printers,
		spooler:  spooler,
		logger:   logger,
		now:      time.Now,
	}
}

func (d *Dispatcher) RegisterClientPrinters(ctx context.Context, tenantID string, clientID string, printers []domain.ClientPrinter) error {
	return d.clients.Put(ctx, tenantID, clientID, printers)
}

// Resolve walks the tiers in order and stops at the first that yields a
// candidate: client device, tenant registered printers, host printers.
func (d *Dispatcher) Resolve(ctx context.Context, tenantID string, clientID string) (Target, bool) {
	if clientID != "" {
		if target, ok := d.fromClient(ctx, tenantID, clientID); ok {
			return target, true
		}
	}
	if target, ok := d.fromRegistered(ctx, tenantID); ok {
		return target, true
	}
	return d.fromHost(ctx)
}

func (d *Dispatcher) fromClient(ctx context.Context, tenantID string, clientID string) (Target, bool) {
	printers, ok, err := d.clients.Get(ctx, tenantID, clientID)
	if err != nil {
		d.logger.Warn("client printer registry unavailable", zap.String("client_id", clientID), zap.Error(err))
		return Target{}, false
	}
	if !ok {
		return Target{}, false
	}
	for _, p := range printers {
		if p.IsDefault && p.Online {
			return Target{Tier: TierClient, Name: p.Name, Queue: p.Name}, true
		}
	}
	for _, p := range printers {
		if p.Online {
			return Target{Tier: TierClient, Name: p.Name, Queue: p.Name}, true
		}
	}
	return Target{}, false
}

func (d *Dispatcher) fromRegistered(ctx context.Context, tenantID string) (Target, bool) {
	printers, err := d.printers.ListPrinters(ctx, tenantID)
	if err != nil {
		d.logger.Warn("registered printers unavailable", zap.String("tenant_id", tenantID), zap.Error(err))
		return Target{}, false
	}
	for _, p := range printers {
		if p.Status != domain.PrinterStatusConnected {
			continue
		}
		queue := p.Connection
		if queue == "" {
			queue = p.Name
		}
		return Target{Tier: TierRegistered, Name: p.Name, Queue: queue, PrinterID: p.ID}, true
	}
	return Target{}, false
}

func (d *Dispatcher) fromHost(ctx context.Context) (Target, bool) {
	printers, err := d.spooler.List(ctx)
	if err != nil {
		d.logger.Warn("host printer enumeration failed", zap.Error(err))
		return Target{}, false
	}
	for _, p := range printers {
		if p.IsDefault {
			return Target{Tier: TierHost, Name: p.Name, Queue: p.Name}, true
		}
	}
	if len(printers) > 0 {
		return Target{Tier: TierHost, Name: printers[0].Name, Queue: printers[0].Name}, true
	}
	return Target{}, false
}

// Dispatch always reports through the result; printing problems are
// expected and must never abort the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) domain.PrintResult {
	target, ok := d.Resolve(ctx, job.TenantID, job.ClientID)
	if !ok {
		d.logger.Warn("no printer available", zap.String("tenant_id", job.TenantID), zap.String("client_id", job.ClientID))
		return domain.PrintResult{
			Code:   CodeNoPrinterAvailable,
			Reason: "Nenhuma impressora disponível: cadastre uma impressora para a loja ou conecte o computador do caixa",
		}
	}

	status, err := d.spooler.Status(ctx, target.Queue)
	if err != nil || !status.Online {
		detail := status.Detail
		if err != nil {
			detail = err.Error()
		}
		d.logger.Warn("printer offline", zap.String("printer", target.Name), zap.String("tier", target.Tier), zap.String("detail", detail))
		reason := fmt.Sprintf("Impressora %s está offline", target.Name)
		if detail != "" {
			reason += ": " + detail
		}
		return domain.PrintResult{Code: CodePrinterOffline, Tier: target.Tier, Printer: target.Name, Reason: reason}
	}

	if err := d.spooler.Send(ctx, target.Queue, job.Content); err != nil {
		d.logger.Warn("print transmission failed", zap.String("printer", target.Name), zap.Error(err))
		return domain.PrintResult{
			Code:    CodePrintTransmissionFailed,
			Tier:    target.Tier,
			Printer: target.Name,
			Reason:  fmt.Sprintf("Falha ao enviar para a impressora %s: %v", target.Name, err),
		}
	}

	if target.Tier == TierRegistered {
		if err := d.printers.TouchPrinter(ctx, job.TenantID, target.PrinterID, d.now().UTC()); err != nil {
			d.logger.Warn("update printer last use", zap.String("printer_id", target.PrinterID), zap.Error(err))
		}
	}
	return domain.PrintResult{
		Success: true,
		Code:    CodeOK,
		Tier:    target.Tier,
		Printer: target.Name,
		Reason:  "Impresso em " + target.Name,
	}
}
