// Package event defines the typed events carried on the bus and the
// decoder that turns raw pub/sub messages into them.
package event

import (
	"github.com/filecloud/pushgate/internal/user"
)

// Channel names published by the upstream app. The decoder dispatches
// on these; anything else is a decode error.
const (
	ChannelStorageUpdate = "notify_storage_update"
	ChannelGroupUpdate   = "notify_group_membership_update"
	ChannelShareCreate   = "notify_user_share_created"
	ChannelTestCookie    = "notify_test_cookie"
)

// Channels returns every channel the gateway subscribes to.
func Channels() []string {
	return []string{
		ChannelStorageUpdate,
		ChannelGroupUpdate,
		ChannelShareCreate,
		ChannelTestCookie,
	}
}

// Event is one decoded bus message. Exactly one of the concrete types
// below is produced per message.
type Event interface {
	isEvent()
}

// StorageUpdate signals a change under Path in the numeric storage
// Storage. Recipients are computed through the storage mapping.
type StorageUpdate struct {
	Storage uint32 `json:"storage"`
	Path    string `json:"path"`
}

// GroupUpdate signals a group membership change affecting one user.
type GroupUpdate struct {
	User  user.ID `json:"user"`
	Group string  `json:"group"`
}

// ShareCreate signals a new share granted to one user.
type ShareCreate struct {
	User user.ID `json:"user"`
}

// TestCookie is a probe value used to verify end-to-end bus liveness.
type TestCookie uint32

func (StorageUpdate) isEvent() {}
func (GroupUpdate) isEvent()   {}
func (ShareCreate) isEvent()   {}
func (TestCookie) isEvent()    {}
