package storage

import (
	"context"
	"errors"
	"time"

	"github.com/martinsuchenak/nmconsole/internal/model"
)

var (
	ErrInvalidID      = errors.New("invalid connection UUID")
	ErrNoSnapshotData = errors.New("no device snapshot recorded")
)

// DraftStorage persists pending connection edits by connection UUID
type DraftStorage interface {
	SaveDraft(ctx context.Context, uuid string, s model.Settings) error
	LoadDrafts(ctx context.Context) (map[string]model.Settings, error)
	DeleteDraft(ctx context.Context, uuid string) error
}

// SnapshotStorage keeps the last seen device table
type SnapshotStorage interface {
	SaveDeviceSnapshot(ctx context.Context, devices []model.Device) error
	ListDeviceSnapshots(ctx context.Context) ([]DeviceSnapshot, error)
}

// Storage is everything the console persists
type Storage interface {
	DraftStorage
	SnapshotStorage
	Close() error
}

// DeviceSnapshot is the last known state of one interface
type DeviceSnapshot struct {
	Interface string       `json:"interface"`
	Device    model.Device `json:"device"`
	SeenAt    time.Time    `json:"seen_at"`
}
