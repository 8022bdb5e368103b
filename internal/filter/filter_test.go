package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	f, err := New(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultJobWindow, f.JobWindow())
	assert.False(t, f.HasAccounts())
	assert.False(t, f.HasRunbooks())
	assert.False(t, f.HasJobIDs())
	assert.False(t, f.IncludeAllStreamValues())
	assert.True(t, f.Unscoped())
}

func TestNew_InvalidWindow(t *testing.T) {
	_, err := New(Options{JobWindow: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestShouldIncludeAccount_NoFilter(t *testing.T) {
	f, err := New(Options{})
	require.NoError(t, err)
	assert.True(t, f.ShouldIncludeAccount("anything"))
}

func TestShouldIncludeAccount_WithFilter(t *testing.T) {
	f, err := New(Options{AccountNames: []string{"prod", " ops "}})
	require.NoError(t, err)

	assert.True(t, f.ShouldIncludeAccount("prod"))
	assert.True(t, f.ShouldIncludeAccount("ops"))
	assert.False(t, f.ShouldIncludeAccount("dev"))
}

func TestRunbookMembership_IsExact(t *testing.T) {
	f, err := New(Options{RunbookNames: []string{"Backup*"}})
	require.NoError(t, err)

	assert.True(t, f.MatchesRunbook("Backup*"))
	assert.False(t, f.MatchesRunbook("BackupDaily"))
	assert.False(t, f.ShouldIncludeRunbook("backup*"))
}

func TestJobIDs(t *testing.T) {
	f, err := New(Options{JobIDs: []string{"2", "", "3"}})
	require.NoError(t, err)

	assert.True(t, f.HasJobIDs())
	assert.True(t, f.MatchesJobID("2"))
	assert.False(t, f.MatchesJobID(""))
	assert.False(t, f.Unscoped())
}

func TestSnapshot_Sorted(t *testing.T) {
	f, err := New(Options{
		AccountNames:           []string{"b", "a"},
		RunbookNames:           []string{"R2", "R1"},
		IncludeAllStreamValues: true,
		JobWindow:              5,
	})
	require.NoError(t, err)

	snap := f.Snapshot()
	assert.Equal(t, []string{"a", "b"}, snap.AccountNames)
	assert.Equal(t, []string{"R1", "R2"}, snap.RunbookNames)
	assert.Empty(t, snap.JobIDs)
	assert.True(t, snap.IncludeAllStreamValues)
	assert.Equal(t, 5, snap.JobWindow)
}
