package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPassKey(t *testing.T) {
	assert.Equal(t, "passes/PZ26-OCP-000042.png", PassKey("PZ26-OCP-000042"))
	assert.Equal(t, "passes/evil.png", PassKey("../../evil"))
}

func TestPresignExpireDefault(t *testing.T) {
	s := &S3{}
	assert.Equal(t, "15m0s", s.PresignExpire().String())
	s.cfg.PresignExpireMinutes = 2
	assert.Equal(t, "2m0s", s.PresignExpire().String())
}
