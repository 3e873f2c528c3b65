// Package permissions defines the member permission bundles applied during
// verification.
package permissions

import api "github.com/OvyFlash/telegram-bot-api"

type Set struct {
	CanSendText   bool
	CanSendMedia  bool
	CanSendOther  bool
	CanChangeInfo bool
	CanInvite     bool
	CanPin        bool
}

// Restricted is applied to a member until verification succeeds.
func Restricted() Set {
	return Set{CanSendText: true}
}

// Full is restored after verification. Changing chat info and pinning stay
// with the administrators.
func Full() Set {
	return Set{
		CanSendText:  true,
		CanSendMedia: true,
		CanSendOther: true,
		CanInvite:    true,
	}
}

func (s Set) ChatPermissions() *api.ChatPermissions {
	return &api.ChatPermissions{
		CanSendMessages:       s.CanSendText,
		CanSendAudios:         s.CanSendMedia,
		CanSendDocuments:      s.CanSendMedia,
		CanSendPhotos:         s.CanSendMedia,
		CanSendVideos:         s.CanSendMedia,
		CanSendVideoNotes:     s.CanSendMedia,
		CanSendVoiceNotes:     s.CanSendMedia,
		CanSendPolls:          s.CanSendOther,
		CanSendOtherMessages:  s.CanSendOther,
		CanAddWebPagePreviews: s.CanSendOther,
		CanChangeInfo:         s.CanChangeInfo,
		CanInviteUsers:        s.CanInvite,
		CanPinMessages:        s.CanPin,
		CanManageTopics:       false,
	}
}
