package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTenantLockKeyStableAcrossCalls(t *testing.T) {
	id := uuid.MustParse("3b8f1a52-9c04-4e7d-8a6f-2d91c0b47e15")
	assert.Equal(t, tenantLockKey(id), tenantLockKey(id))
}

func TestTenantLockKeyDiffersPerTenant(t *testing.T) {
	a := uuid.MustParse("3b8f1a52-9c04-4e7d-8a6f-2d91c0b47e15")
	b := uuid.MustParse("f04d7c21-55e8-49b3-b1da-6c3e98a20d77")
	assert.NotEqual(t, tenantLockKey(a), tenantLockKey(b))
}
