package receipt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// Printer types accepted by NewPrinter.
const (
	PrinterNetwork = "network"
	PrinterUSB     = "usb"
	PrinterNone    = "none"
)

// ErrPrinterUnavailable is returned while the printer breaker is open.
var ErrPrinterUnavailable = errors.New("printer unavailable")

// Printer sends a raw ESC/POS stream to a device.
type Printer interface {
	Print(ctx context.Context, data []byte) error
}

// PrinterConfig selects and addresses the register printer.
type PrinterConfig struct {
	Type    string
	Address string
	USBPath string
	Timeout time.Duration
}

// NewPrinter builds the printer named by cfg.Type.
func NewPrinter(cfg PrinterConfig) (Printer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch cfg.Type {
	case PrinterNetwork:
		if cfg.Address == "" {
			return nil, errors.New("printer address is required for network printers")
		}
		addr := cfg.Address
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, "9100")
		}
		return NetworkPrinter{Address: addr, Timeout: timeout}, nil
	case PrinterUSB:
		if cfg.USBPath == "" {
			return nil, errors.New("printer device path is required for usb printers")
		}
		return USBPrinter{Path: cfg.USBPath}, nil
	case PrinterNone, "":
		return NopPrinter{}, nil
	default:
		return nil, fmt.Errorf("unknown printer type %q", cfg.Type)
	}
}

// NetworkPrinter writes to a raw TCP print port.
type NetworkPrinter struct {
	Address string
	Timeout time.Duration
}

// Print dials, writes and closes; one connection per job.
func (p NetworkPrinter) Print(ctx context.Context, data []byte) error {
	dialer := net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("dial printer %s: %w", p.Address, err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * p.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write printer %s: %w", p.Address, err)
	}
	return nil
}

// USBPrinter writes to a character device such as /dev/usb/lp0.
type USBPrinter struct {
	Path string
}

// Print opens the device for each job.
func (p USBPrinter) Print(_ context.Context, data []byte) error {
	f, err := os.OpenFile(p.Path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open printer %s: %w", p.Path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write printer %s: %w", p.Path, err)
	}
	return f.Close()
}

// NopPrinter discards output, for registers without hardware.
type NopPrinter struct{}

// Print implements Printer.
func (NopPrinter) Print(context.Context, []byte) error { return nil }

// Guarded puts a circuit breaker in front of a printer so a dead device
// fails fast instead of tying up workers.
type Guarded struct {
	Printer Printer
	Breaker *resilience.Breaker
}

// Print implements Printer.
func (g Guarded) Print(ctx context.Context, data []byte) error {
	if g.Breaker == nil {
		return g.Printer.Print(ctx, data)
	}
	err := g.Breaker.Do(ctx, func(ctx context.Context) error { return g.Printer.Print(ctx, data) })
	if errors.Is(err, resilience.ErrOpenCircuit) {
		return ErrPrinterUnavailable
	}
	return err
}
