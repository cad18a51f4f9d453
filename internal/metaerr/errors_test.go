package metaerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithObjectFillsIdentity(t *testing.T) {
	cause := errors.New("permission denied for table users")
	err := WithObject(&ExecutionError{Statement: "DROP TABLE users", Code: "42501", ServerMessage: cause.Error(), Err: cause}, "public.users", OpDrop)

	var exec *ExecutionError
	require.ErrorAs(t, err, &exec)
	assert.Equal(t, "public.users", exec.Object)
	assert.Equal(t, OpDrop, exec.Op)
	assert.Equal(t, "DROP TABLE users", exec.Statement)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "drop public.users failed: permission denied for table users (SQLSTATE 42501)", err.Error())

	wrapped := fmt.Errorf("session: %w", &CancelledError{Err: context.Canceled})
	err = WithObject(wrapped, "public.users", OpRefresh)
	assert.True(t, IsCancelled(err))
	assert.Equal(t, "refresh public.users: cancelled", err.Error())

	plain := errors.New("boom")
	assert.Same(t, plain, WithObject(plain, "x", OpFetch))
	assert.NoError(t, WithObject(nil, "x", OpFetch))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "create public.idx: invalid columns: an index needs at least one column",
		(&ValidationError{Object: "public.idx", Op: OpCreate, Field: "columns", Message: "an index needs at least one column"}).Error())
	assert.Equal(t, "create public.idx: object already exists",
		(&ValidationError{Object: "public.idx", Op: OpCreate, Message: "object already exists"}).Error())
	assert.Equal(t, "db2: alter of bufferpool is not supported",
		(&UnsupportedError{Dialect: "db2", Kind: "bufferpool", Op: OpAlter}).Error())
	assert.True(t, IsStale(fmt.Errorf("wrapped: %w", &StaleObjectError{Object: "idx", Op: OpDrop})))
	assert.False(t, IsStale(errors.New("other")))

	nf := &NotFoundError{Object: "main.orders", Op: OpResolve, Name: "orders", Parent: `"main"`}
	assert.Equal(t, `resolve main.orders: "orders" not found under "main"`, nf.Error())
	assert.True(t, IsNotFound(fmt.Errorf("locate: %w", nf)))
}

func TestPartialFetchWarning(t *testing.T) {
	w := &PartialFetchWarning{Object: "public.users", Kind: "column"}
	w.Add("row 3: missing name")
	w.Add("row 7: bad position")

	assert.Equal(t, 2, w.Skipped)
	assert.Equal(t, "fetch column of public.users: skipped 2 row(s): row 3: missing name; row 7: bad position", w.Error())
}
