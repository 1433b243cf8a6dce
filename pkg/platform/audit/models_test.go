package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditEventCategory(t *testing.T) {
	assert.Equal(t, CategoryCompliance, EventEntityErased.Category())
	assert.Equal(t, CategorySecurity, EventConsistencyGap.Category())
	assert.Equal(t, CategoryOperations, EventEntityRead.Category())
	assert.Equal(t, CategoryOperations, AuditEvent("something_else").Category())
}
