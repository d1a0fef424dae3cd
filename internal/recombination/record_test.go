package recombination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alan/recombine/internal/change"
)

func TestReset(t *testing.T) {
	r := newRecord()
	r.Mainline = "a1a1a1a1"
	r.Resolution = "f0f0f0f0"
	require.NoError(t, r.Attach(uploadedBackport(r, StatusFailed, change.RemoteStatusAbandoned)))

	r.Reset()

	assert.Equal(t, StatusMissing, r.Status)
	assert.Nil(t, r.Backport)
	assert.Empty(t, r.Resolution)
	assert.Empty(t, r.Requests)
	assert.Equal(t, "a1a1a1a1", r.Mainline)
	assert.Equal(t, "Upstream Dev <dev@example.org>", r.Author)
	assert.Equal(t, "I1", r.Metadata.Sources.Main.ID)
	assert.Equal(t, ChangeID("I1", "master"), r.ChangeID())
}

func TestAbandonPublishesDrafts(t *testing.T) {
	reviewer := &fakeReviewer{}
	r := newRecord()
	require.NoError(t, r.Attach(uploadedBackport(r, StatusSuccessful, change.RemoteStatusDraft)))

	require.NoError(t, r.Abandon(context.Background(), reviewer))
	require.NoError(t, r.Abandon(context.Background(), reviewer))

	assert.Equal(t, []int{7}, reviewer.published)
	assert.Equal(t, []int{7}, reviewer.abandoned)
	assert.Equal(t, change.RemoteStatusAbandoned, r.Backport.RemoteStatus)
}
