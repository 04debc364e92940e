package protocol

// Status is the single-byte result code carried on reply packets. It is a
// distinct type with a String method rather than a bare int, matching the
// teacher's enumerated-error idiom (see modules/errors.go, read before
// deletion) generalized from Sia's error set to the wire status codes this
// protocol defines.
type Status uint8

const (
	StatusOK Status = iota
	StatusEPERM
	StatusENOENT
	StatusEACCES
	StatusEEXIST
	StatusEINVAL
	StatusEBUSY
	StatusNoSpace
	StatusNoChunkservers
	StatusChunkLost
	StatusWrongChunkId
	StatusWrongVersion
	StatusWrongOffset
	StatusWrongSize
	StatusDisconnected
	StatusCantConnect
	StatusWaiting
	StatusDelayed
	StatusNotPossible
	StatusQuota
	StatusLocked
	StatusNotLocked
	StatusWrongLockId
	StatusCRCMismatch
)

var statusNames = map[Status]string{
	StatusOK:             "OK",
	StatusEPERM:          "EPERM",
	StatusENOENT:         "ENOENT",
	StatusEACCES:         "EACCES",
	StatusEEXIST:         "EEXIST",
	StatusEINVAL:         "EINVAL",
	StatusEBUSY:          "EBUSY",
	StatusNoSpace:        "NO_SPACE",
	StatusNoChunkservers: "NO_CHUNKSERVERS",
	StatusChunkLost:      "CHUNK_LOST",
	StatusWrongChunkId:   "WRONG_CHUNKID",
	StatusWrongVersion:   "WRONG_VERSION",
	StatusWrongOffset:    "WRONG_OFFSET",
	StatusWrongSize:      "WRONG_SIZE",
	StatusDisconnected:   "DISCONNECTED",
	StatusCantConnect:    "CANT_CONNECT",
	StatusWaiting:        "WAITING",
	StatusDelayed:        "DELAYED",
	StatusNotPossible:    "NOT_POSSIBLE",
	StatusQuota:          "QUOTA",
	StatusLocked:         "LOCKED",
	StatusNotLocked:      "NOT_LOCKED",
	StatusWrongLockId:    "WRONG_LOCK_ID",
	StatusCRCMismatch:    "CRC_MISMATCH",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN_STATUS"
}

// OK reports whether the status represents success.
func (s Status) OK() bool { return s == StatusOK }
