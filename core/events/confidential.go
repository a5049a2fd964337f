package events

import (
	"encoding/hex"
	"strconv"

	"fhecoproc/core/types"
	"fhecoproc/crypto"
)

const (
	TypeOwnershipTransferred = "confidential.ownership.transferred"
	TypeProviderAdded        = "confidential.provider.added"
	TypeProviderRemoved      = "confidential.provider.removed"
	TypePauseToggled         = "confidential.pause.toggled"
	TypeCooldownUpdated      = "confidential.cooldown.updated"
	TypeBatchOpened          = "confidential.batch.opened"
	TypeBatchClosed          = "confidential.batch.closed"
	TypeDataSubmitted        = "confidential.data.submitted"
	TypeDecryptionRequested  = "confidential.decryption.requested"
	TypeDecryptionCompleted  = "confidential.decryption.completed"
	TypeDecryptionExpired    = "confidential.decryption.expired"
)

func addrString(addr [20]byte) string {
	return crypto.NewAddress(crypto.FHEPrefix, addr[:]).String()
}

func uintToString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func intToString(v int64) string {
	return strconv.FormatInt(v, 10)
}

type OwnershipTransferred struct {
	Previous [20]byte
	Owner    [20]byte
}

func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

func (e OwnershipTransferred) Event() *types.Event {
	return types.NewEvent(TypeOwnershipTransferred, map[string]string{
		"previousOwner": addrString(e.Previous),
		"newOwner":      addrString(e.Owner),
	})
}

type ProviderAdded struct {
	Provider [20]byte
}

func (ProviderAdded) EventType() string { return TypeProviderAdded }

func (e ProviderAdded) Event() *types.Event {
	return types.NewEvent(TypeProviderAdded, map[string]string{
		"provider": addrString(e.Provider),
	})
}

type ProviderRemoved struct {
	Provider [20]byte
}

func (ProviderRemoved) EventType() string { return TypeProviderRemoved }

func (e ProviderRemoved) Event() *types.Event {
	return types.NewEvent(TypeProviderRemoved, map[string]string{
		"provider": addrString(e.Provider),
	})
}

type PauseToggled struct {
	Paused bool
}

func (PauseToggled) EventType() string { return TypePauseToggled }

func (e PauseToggled) Event() *types.Event {
	return types.NewEvent(TypePauseToggled, map[string]string{
		"paused": strconv.FormatBool(e.Paused),
	})
}

type CooldownUpdated struct {
	Seconds uint64
}

func (CooldownUpdated) EventType() string { return TypeCooldownUpdated }

func (e CooldownUpdated) Event() *types.Event {
	return types.NewEvent(TypeCooldownUpdated, map[string]string{
		"seconds": uintToString(e.Seconds),
	})
}

type BatchOpened struct {
	BatchID  uint64
	OpenedAt int64
}

func (BatchOpened) EventType() string { return TypeBatchOpened }

func (e BatchOpened) Event() *types.Event {
	return types.NewEvent(TypeBatchOpened, map[string]string{
		"batchId":  uintToString(e.BatchID),
		"openedAt": intToString(e.OpenedAt),
	})
}

type BatchClosed struct {
	BatchID     uint64
	Submissions uint64
	ClosedAt    int64
}

func (BatchClosed) EventType() string { return TypeBatchClosed }

func (e BatchClosed) Event() *types.Event {
	return types.NewEvent(TypeBatchClosed, map[string]string{
		"batchId":     uintToString(e.BatchID),
		"submissions": uintToString(e.Submissions),
		"closedAt":    intToString(e.ClosedAt),
	})
}

type DataSubmitted struct {
	Provider [20]byte
	BatchID  uint64
	Index    uint64
}

func (DataSubmitted) EventType() string { return TypeDataSubmitted }

func (e DataSubmitted) Event() *types.Event {
	return types.NewEvent(TypeDataSubmitted, map[string]string{
		"provider": addrString(e.Provider),
		"batchId":  uintToString(e.BatchID),
		"index":    uintToString(e.Index),
	})
}

type DecryptionRequested struct {
	RequestID string
	BatchID   uint64
	Requester [20]byte
	StateHash [32]byte
}

func (DecryptionRequested) EventType() string { return TypeDecryptionRequested }

func (e DecryptionRequested) Event() *types.Event {
	return types.NewEvent(TypeDecryptionRequested, map[string]string{
		"requestId": e.RequestID,
		"batchId":   uintToString(e.BatchID),
		"requester": addrString(e.Requester),
		"stateHash": hex.EncodeToString(e.StateHash[:]),
	})
}

type DecryptionCompleted struct {
	RequestID string
	BatchID   uint64
	Result    bool
}

func (DecryptionCompleted) EventType() string { return TypeDecryptionCompleted }

func (e DecryptionCompleted) Event() *types.Event {
	return types.NewEvent(TypeDecryptionCompleted, map[string]string{
		"requestId": e.RequestID,
		"batchId":   uintToString(e.BatchID),
		"result":    strconv.FormatBool(e.Result),
	})
}

type DecryptionExpired struct {
	RequestID string
	BatchID   uint64
	ExpiredAt int64
}

func (DecryptionExpired) EventType() string { return TypeDecryptionExpired }

func (e DecryptionExpired) Event() *types.Event {
	return types.NewEvent(TypeDecryptionExpired, map[string]string{
		"requestId": e.RequestID,
		"batchId":   uintToString(e.BatchID),
		"expiredAt": intToString(e.ExpiredAt),
	})
}
