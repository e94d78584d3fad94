package security

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atomik-trading/broker-link/pkg/websocket/base"
)

func TestValidatorRejectsOversizedFrames(t *testing.T) {
	mv := NewMessageValidator(ValidationConfig{MaxMessageSize: 4, AllowUnknown: true})

	err := mv.Validate([]byte("12345"), base.Envelope{Kind: base.KindOrderUpdate})
	assert.ErrorContains(t, err, "too large")

	assert.NoError(t, mv.Validate([]byte("1234"), base.Envelope{Kind: base.KindOrderUpdate}))
}

func TestValidatorUnknownKinds(t *testing.T) {
	strict := NewMessageValidator(ValidationConfig{AllowUnknown: false})
	err := strict.Validate([]byte("{}"), base.Envelope{Kind: base.KindUnknown, Tag: "mystery"})
	assert.ErrorContains(t, err, "mystery")

	lenient := NewMessageValidator(ValidationConfig{AllowUnknown: true})
	assert.NoError(t, lenient.Validate([]byte("{}"), base.Envelope{Kind: base.KindUnknown, Tag: "mystery"}))
}

func TestValidatorAllowedKinds(t *testing.T) {
	mv := NewMessageValidator(ValidationConfig{
		AllowedKinds: map[base.Kind]bool{base.KindOrderUpdate: true},
	})

	assert.NoError(t, mv.Validate([]byte("{}"), base.Envelope{Kind: base.KindOrderUpdate}))
	assert.Error(t, mv.Validate([]byte("{}"), base.Envelope{Kind: base.KindMarketData}))
}
