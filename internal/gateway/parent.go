package gateway

import (
	"fmt"

	"github.com/mattjoyce/vessel/internal/protocol"
)

// Command names served by the presentation process.
const (
	ParentShow       = "show"
	ParentHide       = "hide"
	ParentQuit       = "quit"
	ParentRise       = "rise"
	ParentInFocus    = "inFocus"
	ParentOutFocus   = "outFocus"
	ParentResize     = "resize"
	ParentHostAttach = "host_attach"
	ParentHostDetach = "host_detach"
	ParentPopup      = "popup"
	ParentPublish    = "publish"
	ParentValidate   = "validate"
)

// Parent sends host-initiated commands. A failed send declares the remote
// side gone.
type Parent struct {
	g *Gateway
}

func (p *Parent) send(name string, args ...any) error {
	select {
	case <-p.g.gone:
		return fmt.Errorf("%s: remote side is gone", name)
	default:
	}
	if err := p.g.ch.SendCall(protocol.KindParent, name, args...); err != nil {
		p.g.remoteGone(err)
		return err
	}
	return nil
}

// Show asks the presentation process to appear with the given settings.
func (p *Parent) Show(settings map[string]any) error {
	if settings == nil {
		settings = map[string]any{}
	}
	return p.send(ParentShow, settings)
}

func (p *Parent) Hide() error       { return p.send(ParentHide) }
func (p *Parent) Quit() error       { return p.send(ParentQuit) }
func (p *Parent) Rise() error       { return p.send(ParentRise) }
func (p *Parent) InFocus() error    { return p.send(ParentInFocus) }
func (p *Parent) OutFocus() error   { return p.send(ParentOutFocus) }
func (p *Parent) HostAttach() error { return p.send(ParentHostAttach) }
func (p *Parent) HostDetach() error { return p.send(ParentHostDetach) }
func (p *Parent) Publish() error    { return p.send(ParentPublish) }
func (p *Parent) Validate() error   { return p.send(ParentValidate) }

func (p *Parent) Resize(width, height int) error {
	return p.send(ParentResize, width, height)
}

func (p *Parent) Popup(alert string) error {
	return p.send(ParentPopup, alert)
}
