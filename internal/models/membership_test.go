package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityRoundTrip(t *testing.T) {
	for _, c := range Capabilities {
		parsed, err := ParseCapability(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	_, err := ParseCapability("send_messages")
	assert.Error(t, err)
}

func TestPermissionSet(t *testing.T) {
	p := NewPermissionSet(CapSendMessage, CapPinMessage)
	assert.True(t, p.Has(CapSendMessage))
	assert.True(t, p.Has(CapPinMessage))
	assert.False(t, p.Has(CapAddMember))

	p = p.Without(CapPinMessage)
	assert.False(t, p.Has(CapPinMessage))
	assert.Equal(t, []string{"send_message"}, p.Names())
}

func TestPermissionSetJSON(t *testing.T) {
	raw, err := json.Marshal(NewPermissionSet(CapRemoveMember, CapAddMember))
	require.NoError(t, err)
	assert.JSONEq(t, `["add_member","remove_member"]`, string(raw))

	var p PermissionSet
	require.NoError(t, json.Unmarshal([]byte(`["delete_any_message"]`), &p))
	assert.True(t, p.Has(CapDeleteAnyMessage))

	assert.Error(t, json.Unmarshal([]byte(`["admin"]`), &p))
}

func TestMembershipPermits(t *testing.T) {
	tests := []struct {
		name string
		m    Membership
		cap  Capability
		want bool
	}{
		{"member with grant", Membership{Role: RoleMember, Status: StatusActive, Permissions: DefaultPermissions}, CapSendMessage, true},
		{"member without grant", Membership{Role: RoleMember, Status: StatusActive, Permissions: DefaultPermissions}, CapDeleteAnyMessage, false},
		{"admin implies all", Membership{Role: RoleAdmin, Status: StatusActive}, CapRemoveMember, true},
		{"owner implies all", Membership{Role: RoleOwner, Status: StatusActive}, CapPinMessage, true},
		{"left owner", Membership{Role: RoleOwner, Status: StatusLeft}, CapSendMessage, false},
		{"blocked member", Membership{Role: RoleMember, Status: StatusBlocked, Permissions: DefaultPermissions}, CapSendMessage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.Permits(tt.cap))
		})
	}
}

func TestSummarizeMessage(t *testing.T) {
	msg := Message{ID: 9, RoomID: 7, SenderID: 2, Content: Content{Type: ContentText, Body: "hi"}}
	s := Summarize(3, Event{Type: EventNewMessage, Data: msg})

	assert.Equal(t, NotificationSummary{UserID: 3, EventType: EventNewMessage, RoomID: 7, MessageID: 9, SenderID: 2, Preview: "hi"}, s)

	img := Summarize(3, Event{Type: EventNewMessage, Data: Message{Content: Content{Type: ContentImage, Body: "s3://x"}}})
	assert.Equal(t, "[image]", img.Preview)
}

func TestRedactedClearsDeletedContent(t *testing.T) {
	now := Now()
	msg := Message{ID: 1, Content: Content{Type: ContentText, Body: "secret"}, DeletedAt: &now}
	assert.Equal(t, Content{}, msg.Redacted().Content)

	live := Message{ID: 2, Content: Content{Type: ContentText, Body: "ok"}}
	assert.Equal(t, "ok", live.Redacted().Content.Body)
}

func TestEphemeralEvents(t *testing.T) {
	for _, typ := range []EventType{EventTypingIndicator, EventPresenceUpdate, EventUserJoinedRoom, EventUserLeftRoom} {
		assert.True(t, typ.Ephemeral(), typ)
	}
	for _, typ := range []EventType{EventNewMessage, EventMembershipChanged, EventRoomUpdated} {
		assert.False(t, typ.Ephemeral(), typ)
	}
}
