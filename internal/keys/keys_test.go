package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys_Builders(t *testing.T) {
	q := "email"
	assert.Equal(t, "fetchq:{email}:pending", Pending(q))
	assert.Equal(t, "fetchq:{email}:active", Active(q))
	assert.Equal(t, "fetchq:{email}:completed", Completed(q))
	assert.Equal(t, "fetchq:{email}:killed", Killed(q))
	assert.Equal(t, "fetchq:{email}:errors", Errors(q))
	assert.Equal(t, "fetchq:{email}:doc:", DocPrefix(q))
	assert.Equal(t, "fetchq__email__pnd", PendingChannel(q))
}

func TestKeys_For(t *testing.T) {
	q := For("video")
	assert.Equal(t, "video", q.Name)
	assert.Equal(t, "fetchq:{video}:pending", q.Pending)
	assert.Equal(t, "fetchq:{video}:active", q.Active)
	assert.Equal(t, "fetchq:{video}:completed", q.Completed)
	assert.Equal(t, "fetchq:{video}:killed", q.Killed)
	assert.Equal(t, "fetchq:{video}:errors", q.Errors)
	assert.Equal(t, "fetchq__video__pnd", q.Channel)
	assert.Equal(t, "fetchq:{video}:doc:", q.DocPrefix)
	assert.Equal(t, "fetchq:{video}:doc:x", q.Doc("x"))
}
