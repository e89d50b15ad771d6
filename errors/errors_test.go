package errors_test

import (
	"fmt"
	"testing"

	"github.com/dbcore/fiberdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		uncoded := newUncoded("uncoded error")
		nsf := newErrNoSuchField("f.c[1]")
		dup := newErrDuplicate("2")
		nsfCustom := errors.New(errors.NoSuchField, "custom field message")

		tests := []struct {
			err    error
			target errors.Code
			exp    bool
		}{
			{
				err:    uncoded,
				target: errors.ErrUncoded,
				exp:    true,
			},
			{
				err:    uncoded,
				target: errors.NoSuchField,
				exp:    false,
			},
			{
				err:    nsf,
				target: errors.NoSuchField,
				exp:    true,
			},
			{
				err:    nsf,
				target: errors.Duplicate,
				exp:    false,
			},
			{
				err:    errors.Wrap(dup, "with message"),
				target: errors.Duplicate,
				exp:    true,
			},
			{
				err:    nsfCustom,
				target: errors.NoSuchField,
				exp:    true,
			},
		}

		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				got := errors.Is(test.err, test.target)
				assert.Equal(t, test.exp, got)
			})
		}
	})

	t.Run("Newf", func(t *testing.T) {
		err := errors.Newf(errors.UpdateSplice, "offset %d out of bound for field %q", 12, "f[2]")
		assert.True(t, errors.Is(err, errors.UpdateSplice))
		assert.Equal(t, `offset 12 out of bound for field "f[2]"`, err.Error())
	})
}

func newUncoded(message string) error {
	return errors.New(errors.ErrUncoded, message)
}

func newErrNoSuchField(path string) error {
	return errors.New(errors.NoSuchField, "no such field: "+path)
}

func newErrDuplicate(field string) error {
	return errors.New(errors.Duplicate, "duplicate field: "+field)
}
