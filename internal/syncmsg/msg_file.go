package syncmsg

type FileChanged struct {
	Operation Operation  `json:"operation" msgpack:"operation"`
	Record    FileRecord `json:"record" msgpack:"record"`
	OldPath   string     `json:"oldPath,omitempty" msgpack:"oldPath,omitempty"`
}

func (*FileChanged) messageType() MessageType { return MsgFileChanged }

func NewFileChanged(origin string, op Operation, record *FileRecord, oldPath string) *Message {
	return newMessage(origin, &FileChanged{Operation: op, Record: *record, OldPath: oldPath})
}

// ChangeEvent converts a FILE_CHANGED message into the event applied by a peer.
func (m *Message) ChangeEvent() (ChangeEvent, bool) {
	fc, ok := m.Data.(*FileChanged)
	if !ok {
		return ChangeEvent{}, false
	}
	rec := fc.Record
	return ChangeEvent{
		Operation:    fc.Operation,
		Record:       &rec,
		OriginPeerID: m.Origin,
		Timestamp:    m.Timestamp,
		OldPath:      fc.OldPath,
	}, true
}
