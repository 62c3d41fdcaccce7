package apperr_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/LJTian/TrendingVault/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestIdentityError_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("item 3: %w", apperr.NewIdentity("source_id", "is empty"))

	var ie *apperr.IdentityError
	assert.True(t, errors.As(err, &ie))
	assert.Equal(t, "source_id", ie.Field)
	assert.Equal(t, "item 3: identity: source_id is empty", err.Error())
}

func TestInsufficientDataError_MatchesSentinel(t *testing.T) {
	err := fmt.Errorf("build abc: %w", &apperr.InsufficientDataError{Got: 3, Want: 5})

	assert.ErrorIs(t, err, apperr.ErrInsufficientData)
	assert.NotErrorIs(t, err, apperr.ErrBuildInProgress)
	assert.Contains(t, err.Error(), "got 3 items, need 5")
}

func TestBuildInProgressError_CarriesHolder(t *testing.T) {
	started := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	err := fmt.Errorf("begin build: %w", &apperr.BuildInProgressError{SnapshotID: "snap-1", StartedAt: started})

	assert.ErrorIs(t, err, apperr.ErrBuildInProgress)

	var bip *apperr.BuildInProgressError
	assert.True(t, errors.As(err, &bip))
	assert.Equal(t, "snap-1", bip.SnapshotID)
	assert.Contains(t, err.Error(), "2026-10-19T08:00:00Z")
}
