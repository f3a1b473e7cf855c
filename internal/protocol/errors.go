package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Map routing.
	ErrMapNotFound = "E_MAP_NOT_FOUND"

	// Change layer.
	ErrBadRequest   = "E_BAD_REQUEST"
	ErrNoPermission = "E_NO_PERMISSION"
	ErrObjectCap    = "E_OBJECT_CAP"
	ErrConflict     = "E_CONFLICT"
	ErrSlowConsumer = "E_SLOW_CONSUMER"
	ErrInternal     = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrMapNotFound:     {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrObjectCap:       {},
	ErrConflict:        {},
	ErrSlowConsumer:    {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
