package fault

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsData(t *testing.T) {
	base := errors.New("no features inside extent")
	err := eris.Wrap(NewDataError(StageIndex, "rail", base), "pipeline: index")

	assert.True(t, IsData(err))
	assert.False(t, IsPrecondition(err))
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "dataset rail")
}

func TestIsPrecondition(t *testing.T) {
	err := eris.Wrap(&PreconditionError{Stage: StageRoads, Missing: []string{"overall_cii"}}, "pipeline")
	assert.True(t, IsPrecondition(err))
	assert.Contains(t, err.Error(), "roads: missing upstream outputs: overall_cii")
}

func TestIsWorkspace(t *testing.T) {
	err := &WorkspaceError{Op: "reset", Err: errors.New("database is locked")}
	assert.True(t, IsWorkspace(err))
	assert.False(t, IsWorkspace(errors.New("other")))
	assert.Equal(t, "workspace reset: database is locked", err.Error())
}

func TestWarningString(t *testing.T) {
	w := Warning{Stage: StageIndex, Dataset: "obesity", Message: "unmatched join keys", Count: 3}
	assert.Equal(t, "[index/obesity] unmatched join keys (3)", w.String())

	w.Count = 0
	assert.Equal(t, "[index/obesity] unmatched join keys", w.String())
}
