package syncer

import "errors"

var (
	ErrNoClient         = errors.New("syncer requires a client")
	ErrClosed           = errors.New("manager is closed")
	ErrCleared          = errors.New("operation discarded by ClearAll")
	ErrSyncInProgress   = errors.New("resync already in progress for entity type")
	ErrUnknownOperation = errors.New("unknown operation kind")
)
