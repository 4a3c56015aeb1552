package util_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/schema-planner/internal/util"
)

func TestCleanupOnErr(t *testing.T) {
	runErr := errors.New("pinging database")
	closeErr := errors.New("connection already closed")
	for _, tc := range []struct {
		name            string
		runErr          error
		cleanupErr      error
		expectedCleanup bool
		expectedErrs    []error
	}{
		{
			name:            "no error",
			expectedCleanup: false,
		},
		{
			name:            "error",
			runErr:          runErr,
			expectedCleanup: true,
			expectedErrs:    []error{runErr},
		},
		{
			name:            "error and cleanup error",
			runErr:          runErr,
			cleanupErr:      closeErr,
			expectedCleanup: true,
			expectedErrs:    []error{runErr, closeErr},
		},
		{
			name:            "cleanup error ignored on success",
			cleanupErr:      closeErr,
			expectedCleanup: false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cleanedUp := false
			run := func() (retErr error) {
				defer util.CleanupOnErr(&retErr, func() error {
					cleanedUp = true
					return tc.cleanupErr
				})
				return tc.runErr
			}

			err := run()
			assert.Equal(t, tc.expectedCleanup, cleanedUp)
			if len(tc.expectedErrs) == 0 {
				require.NoError(t, err)
				return
			}
			for _, expected := range tc.expectedErrs {
				assert.ErrorIs(t, err, expected)
			}
		})
	}
}

func TestCleanupOnErr_Panic(t *testing.T) {
	cleanedUp := false
	run := func() (retErr error) {
		defer util.CleanupOnErr(&retErr, func() error {
			cleanedUp = true
			return nil
		})
		panic("registry corrupted")
	}

	assert.PanicsWithValue(t, "registry corrupted", func() {
		_ = run()
	})
	assert.True(t, cleanedUp)
}
