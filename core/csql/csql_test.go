package csql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	unique := &pq.Error{Code: "23505"}
	assert.True(t, IsUniqueViolation(unique))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", unique)))
	assert.False(t, IsForeignKeyViolation(unique))
	assert.True(t, IsForeignKeyViolation(&pq.Error{Code: "23503"}))
	assert.True(t, IsInvalidText(&pq.Error{Code: "22P02"}))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}

func TestTable(t *testing.T) {
	db := &DB{Schema: "tenantkit"}
	assert.Equal(t, "tenantkit.resource", db.Table("resource"))
	assert.Equal(t, "CREATE TABLE x", firstLine("\n  CREATE TABLE x\n(id int)"))
}
