package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/policy"
)

func TestDecide(t *testing.T) {
	inbound := &model.InboundEmail{
		From: "alice@example.com",
		To:   []string{"agent@gateway.example.com"},
		Cc:   []string{"bob@example.com", "carol@example.com"},
	}

	cases := []struct {
		name string
		mode model.CCMode
		want policy.Decision
	}{
		{
			name: "respond_all keeps cc list",
			mode: model.CCModeRespondAll,
			want: policy.Decision{
				To: []string{"alice@example.com"},
				Cc: []string{"bob@example.com", "carol@example.com"},
			},
		},
		{
			name: "respond_sender drops cc list",
			mode: model.CCModeRespondSender,
			want: policy.Decision{To: []string{"alice@example.com"}},
		},
		{
			name: "silent suppresses send",
			mode: model.CCModeSilent,
			want: policy.Decision{SuppressSend: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.Decide(tc.mode, inbound, "agent@gateway.example.com")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecideStripsSelfFromCC(t *testing.T) {
	inbound := &model.InboundEmail{
		From: "alice@example.com",
		Cc:   []string{"bob@example.com", "Agent@Gateway.Example.COM"},
	}

	got := policy.Decide(model.CCModeRespondAll, inbound, "agent@gateway.example.com")

	assert.Equal(t, []string{"alice@example.com"}, got.To)
	assert.Equal(t, []string{"bob@example.com"}, got.Cc)
}

func TestDecideNoCCList(t *testing.T) {
	inbound := &model.InboundEmail{From: "alice@example.com"}

	got := policy.Decide(model.CCModeRespondAll, inbound, "agent@gateway.example.com")

	assert.Equal(t, []string{"alice@example.com"}, got.To)
	assert.Empty(t, got.Cc)
}
