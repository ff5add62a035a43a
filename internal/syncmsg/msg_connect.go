package syncmsg

type Connect struct {
	PeerID   string `json:"peerId" msgpack:"peerId"`
	Name     string `json:"name" msgpack:"name"`
	SyncRoot string `json:"syncRoot" msgpack:"syncRoot"`
}

func (*Connect) messageType() MessageType { return MsgConnect }

func NewConnect(peerID, name, syncRoot string) *Message {
	return newMessage(peerID, &Connect{PeerID: peerID, Name: name, SyncRoot: syncRoot})
}

// NewConnectAck is the coordinator's reply to a CONNECT.
func NewConnectAck(peerID string) *Message {
	return newMessage(CoordinatorID, &Connect{PeerID: peerID})
}

type Heartbeat struct {
	Seq uint64 `json:"seq" msgpack:"seq"`
}

func (*Heartbeat) messageType() MessageType { return MsgHeartbeat }

func NewHeartbeat(origin string, seq uint64) *Message {
	return newMessage(origin, &Heartbeat{Seq: seq})
}

type PeerJoined struct {
	PeerID string `json:"peerId" msgpack:"peerId"`
	Name   string `json:"name" msgpack:"name"`
}

func (*PeerJoined) messageType() MessageType { return MsgPeerJoined }

func NewPeerJoined(peerID, name string) *Message {
	return newMessage(CoordinatorID, &PeerJoined{PeerID: peerID, Name: name})
}

type PeerLeft struct {
	PeerID string `json:"peerId" msgpack:"peerId"`
	Reason string `json:"reason" msgpack:"reason"`
}

func (*PeerLeft) messageType() MessageType { return MsgPeerLeft }

func NewPeerLeft(peerID, reason string) *Message {
	return newMessage(CoordinatorID, &PeerLeft{PeerID: peerID, Reason: reason})
}
