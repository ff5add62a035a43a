package syncmsg

const (
	ErrCodeBadMessage    = 400
	ErrCodeOriginInvalid = 403
	ErrCodeUnsupported   = 422
)

type Error struct {
	Code    int    `json:"cod" msgpack:"cod"`
	Path    string `json:"pth" msgpack:"pth"`
	Message string `json:"msg" msgpack:"msg"`
}

func (*Error) messageType() MessageType { return MsgError }

func NewError(code int, path string, msg string) *Message {
	return newMessage(CoordinatorID, &Error{Code: code, Path: path, Message: msg})
}
