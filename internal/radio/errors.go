package radio

import "errors"

var (
	ErrUnknownPayloadType = errors.New("unknown mesh packet payload type")
	ErrDecrypt            = errors.New("unable to decrypt packet payload")
)
