package passview

import (
	"fmt"
	"io"
	"sync"

	"github.com/pz26/confpass/internal/pass"
)

// Printer writes every view transition to w. Attach it with
// Controller.Subscribe(printer.Observe).
type Printer struct {
	mu sync.Mutex
	w  io.Writer
	qr bool
}

// NewPrinter creates a printer. With qr set, confirmed passes are followed
// by a terminal QR code.
func NewPrinter(w io.Writer, qr bool) *Printer {
	return &Printer{w: w, qr: qr}
}

// Observe prints v.
func (p *Printer) Observe(v pass.View) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch v.State {
	case pass.StateConfirmed, pass.StatePending:
		label := "Pass"
		if v.State == pass.StatePending {
			label = "Pass (not yet verified)"
		}
		fmt.Fprintf(p.w, "%s: %s\n", label, v.Pass.RegID)
		fmt.Fprintf(p.w, "  Name:    %s\n", v.Pass.FullName)
		fmt.Fprintf(p.w, "  Email:   %s\n", v.Pass.Email)
		fmt.Fprintf(p.w, "  College: %s\n", v.Pass.College)
		fmt.Fprintf(p.w, "  QR:      %s\n", v.Pass.QRText)
		if p.qr && v.State == pass.StateConfirmed {
			if s, err := Terminal(v.Pass.QRText); err == nil {
				fmt.Fprint(p.w, s)
			}
		}
	case pass.StateRevoked:
		fmt.Fprintln(p.w, "No pass: registration withdrawn.")
	default:
		if v.Registering {
			fmt.Fprintln(p.w, "Registering...")
		} else {
			fmt.Fprintln(p.w, "Not registered.")
		}
	}
	if v.Notice != "" {
		fmt.Fprintf(p.w, "! %s\n", v.Notice)
	}
	if v.Participants >= 0 {
		fmt.Fprintf(p.w, "Participants: %d\n", v.Participants)
	}
}
