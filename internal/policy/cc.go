// Package policy computes the outbound recipient set from the
// configured CC mode.
package policy

import (
	"strings"

	"github.com/nhle/email-gateway/internal/model"
)

// Decision is the computed recipient set for one reply. It is derived
// per message and never persisted.
type Decision struct {
	// To holds the primary recipients of the reply.
	To []string

	// Cc holds the carbon-copy recipients of the reply.
	Cc []string

	// SuppressSend short-circuits before the auto-reply scheduler:
	// the inbound message is still threaded and persisted, but no
	// reply is composed or sent.
	SuppressSend bool
}

// Decide computes the recipient set for a reply to the given inbound
// email. selfAddress is the gateway's own from-address; it is stripped
// from CC lists so the agent never copies itself.
//
//	respond_all    → to: sender, cc: inbound cc minus self
//	respond_sender → to: sender, cc: empty
//	silent         → suppress send entirely
func Decide(mode model.CCMode, inbound *model.InboundEmail, selfAddress string) Decision {
	switch mode {
	case model.CCModeSilent:
		return Decision{SuppressSend: true}

	case model.CCModeRespondSender:
		return Decision{To: []string{inbound.From}}

	default: // respond_all
		return Decision{
			To: []string{inbound.From},
			Cc: withoutAddress(inbound.Cc, selfAddress),
		}
	}
}

// withoutAddress returns addrs without any entry equal to addr,
// compared case-insensitively.
func withoutAddress(addrs []string, addr string) []string {
	addr = strings.ToLower(strings.TrimSpace(addr))

	var out []string
	for _, a := range addrs {
		if strings.ToLower(strings.TrimSpace(a)) == addr {
			continue
		}
		out = append(out, a)
	}
	return out
}
