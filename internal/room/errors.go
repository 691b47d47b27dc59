package room

import "errors"

var (
	ErrRoomFull         = errors.New("room is full")
	ErrNameInUse        = errors.New("name already in use")
	ErrNotInRoom        = errors.New("player not in room")
	ErrIDInUse          = errors.New("connection id already seated")
	ErrAddressExhausted = errors.New("no free room code after retries")
)
