package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBAttachment is the persisted metadata of an uploaded attachment.
// The bytes themselves live in the file store under Hash.
type DBAttachment struct {
	ID        string `msgpack:"id"`
	Hash      string `msgpack:"hash"`
	Type      string `msgpack:"type"`
	Name      string `msgpack:"name"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CreatedAt int64  `msgpack:"createdAt"`
	ClientID  string `msgpack:"clientId"`
}

var _ Storeable = (*DBAttachment)(nil)

func (a *DBAttachment) Key() []byte {
	return []byte(a.ID)
}

func (a *DBAttachment) MarshalBinary() (data []byte, err error) {
	type alias DBAttachment
	return msgpack.Marshal((*alias)(a))
}

func (a *DBAttachment) UnmarshalBinary(data []byte) error {
	type alias DBAttachment
	return msgpack.Unmarshal(data, (*alias)(a))
}
