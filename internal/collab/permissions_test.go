package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

func TestAuthorize(t *testing.T) {
	pl := seedPlaylist()

	mutations := []model.OpType{
		model.OpAddClip, model.OpRemoveClip, model.OpReorderClips,
		model.OpUpdateClip, model.OpUpdateMetadata, model.OpUpdateDrinkingSound,
	}

	t.Run("owner and editor may mutate", func(t *testing.T) {
		for _, user := range []string{"alice", "bob"} {
			for _, typ := range mutations {
				assert.NoError(t, Authorize(&pl, user, typ), "%s %s", user, typ)
			}
		}
	})

	t.Run("viewer is denied every mutation", func(t *testing.T) {
		for _, typ := range mutations {
			err := Authorize(&pl, "carol", typ)
			require.Error(t, err, "%s", typ)
			assert.Equal(t, KindPermissionDenied, KindOf(err))
		}
	})

	t.Run("stranger is denied", func(t *testing.T) {
		err := Authorize(&pl, "mallory", model.OpAddClip)
		require.Error(t, err)
		assert.Equal(t, KindPermissionDenied, KindOf(err))
	})
}

func TestAuthorizeRead(t *testing.T) {
	pl := seedPlaylist()

	assert.NoError(t, AuthorizeRead(&pl, "alice"))
	assert.NoError(t, AuthorizeRead(&pl, "bob"))
	assert.NoError(t, AuthorizeRead(&pl, "carol"), "viewers read")

	err := AuthorizeRead(&pl, "mallory")
	require.Error(t, err)
	assert.Equal(t, KindPermissionDenied, KindOf(err))
}

func TestAuthorizeManage(t *testing.T) {
	pl := seedPlaylist()

	assert.NoError(t, AuthorizeManage(&pl, "alice"))

	for _, user := range []string{"bob", "carol", "mallory"} {
		err := AuthorizeManage(&pl, user)
		require.Error(t, err, user)
		assert.Equal(t, KindPermissionDenied, KindOf(err))
	}
}
