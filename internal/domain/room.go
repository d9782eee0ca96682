package domain

type RoomKind string

const (
	RoomWhiteboard   RoomKind = "whiteboard"
	RoomDocument     RoomKind = "document"
	RoomChat         RoomKind = "chat"
	RoomCall         RoomKind = "call"
	RoomProject      RoomKind = "project"
	RoomNotification RoomKind = "notification"
)

func (k RoomKind) Valid() bool {
	switch k {
	case RoomWhiteboard, RoomDocument, RoomChat, RoomCall, RoomProject, RoomNotification:
		return true
	}
	return false
}

// RoomKey identifies a room. A connection holds at most one room per kind.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// UserRoom is the private per-user notification room every connection joins
// at handshake. List-invalidation events target these rooms explicitly.
func UserRoom(id UserID) RoomKey {
	return RoomKey{Kind: RoomNotification, ID: "user:" + string(id)}
}

func CallRoom(callID string) RoomKey {
	return RoomKey{Kind: RoomCall, ID: callID}
}
