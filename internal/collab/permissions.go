package collab

import (
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

// The role rule table. Owners may do everything including collaborator
// management; editors may mutate playlist content; viewers only read.
// Denials never reach the resolver or the log.

// Authorize checks that userID may submit an operation of type typ against
// the playlist's current collaborator table.
func Authorize(pl *model.Playlist, userID string, typ model.OpType) error {
	role := pl.RoleOf(userID)
	switch role {
	case model.RoleOwner, model.RoleEditor:
		return nil
	case model.RoleViewer:
		return errf(KindPermissionDenied, "viewer %s may not submit %s", userID, typ)
	default:
		return errf(KindPermissionDenied, "%s is not a collaborator on playlist %s", userID, pl.ID)
	}
}

// AuthorizeRead checks that userID may subscribe to or read the playlist.
func AuthorizeRead(pl *model.Playlist, userID string) error {
	if pl.RoleOf(userID) == "" {
		return errf(KindPermissionDenied, "%s is not a collaborator on playlist %s", userID, pl.ID)
	}
	return nil
}

// AuthorizeManage checks that userID may invite or remove collaborators.
func AuthorizeManage(pl *model.Playlist, userID string) error {
	if pl.RoleOf(userID) != model.RoleOwner {
		return errf(KindPermissionDenied, "only the owner may manage collaborators on playlist %s", pl.ID)
	}
	return nil
}
