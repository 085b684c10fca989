package syncstatus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartUpdateRecordSuccessClearsCurrent(t *testing.T) {
	vaultRoot := t.TempDir()
	j := Open(vaultRoot, "abcd", Inbound)

	require.NoError(t, j.Start("abcd", Mirror, Inbound))
	total := 3
	require.NoError(t, j.Update(2, &total))
	require.NoError(t, j.RecordSuccess())

	r, err := j.load()
	require.NoError(t, err)
	require.Nil(t, r.Current)
	require.NotNil(t, r.LastSuccess)
	require.Equal(t, 2, r.LastSuccess.FilesTransferred)
}

func TestStartPreservesPriorLastSuccess(t *testing.T) {
	vaultRoot := t.TempDir()
	j := Open(vaultRoot, "abcd", Outbound)

	require.NoError(t, j.Start("abcd", Mirror, Outbound))
	require.NoError(t, j.Update(5, nil))
	require.NoError(t, j.RecordSuccess())

	require.NoError(t, j.Start("abcd", Mirror, Outbound))

	r, err := j.load()
	require.NoError(t, err)
	require.NotNil(t, r.LastSuccess)
	require.Equal(t, 5, r.LastSuccess.FilesTransferred)
}

func TestRecordFailureSetsReasonAndClearsCurrent(t *testing.T) {
	vaultRoot := t.TempDir()
	j := Open(vaultRoot, "abcd", Inbound)

	require.NoError(t, j.Start("abcd", Share, Inbound))
	require.NoError(t, j.RecordFailure("sync with self"))

	r, err := j.load()
	require.NoError(t, err)
	require.Nil(t, r.Current)
	require.NotNil(t, r.LastFailure)
	require.Equal(t, "sync with self", r.LastFailure.Reason)
}

func TestClearAllOrphanedClearsSurvivingCurrent(t *testing.T) {
	vaultRoot := t.TempDir()
	j := Open(vaultRoot, "abcd", Inbound)
	require.NoError(t, j.Start("abcd", Mirror, Inbound))

	require.NoError(t, ClearAllOrphaned(vaultRoot))

	r, err := j.load()
	require.NoError(t, err)
	require.Nil(t, r.Current)
}
