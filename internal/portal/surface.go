package portal

import "context"

// Responder is the captive DNS responder.
type Responder interface {
	Start(ctx context.Context) error
}

// Surface activates the portal, plus DNS capture in access point mode.
// Both parts tolerate repeated starts, so Activate does too.
type Surface struct {
	Server *Server
	DNS    Responder
}

func (s *Surface) Activate(ctx context.Context, captive bool) error {
	if err := s.Server.Start(ctx); err != nil {
		return err
	}

	if captive && s.DNS != nil {
		return s.DNS.Start(ctx)
	}

	return nil
}
