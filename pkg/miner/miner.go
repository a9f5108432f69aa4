// Package miner defines the contract between the fleet engine and the
// vendor drivers that talk to individual devices.
package miner

import (
	"context"
	"errors"

	"github.com/martinsuchenak/asicfleet/pkg/minerconfig"
)

var (
	// ErrUnreachable means the device did not answer or the answer was not
	// readable.
	ErrUnreachable = errors.New("device unreachable")
	// ErrProtocol means the device answered in an unexpected shape or
	// rejected the request.
	ErrProtocol = errors.New("protocol error")
	// ErrUnsupported means the device family does not offer the capability.
	ErrUnsupported = errors.New("not supported by device")
)

// Family identifies a firmware/vendor family.
type Family string

const (
	FamilyAntminer    Family = "antminer"
	FamilyWhatsminer  Family = "whatsminer"
	FamilyBOSminer    Family = "bosminer"
	FamilyAvalon      Family = "avalon"
	FamilyInnosilicon Family = "innosilicon"
	FamilyGoldshell   Family = "goldshell"
	FamilyVNish       Family = "vnish"
	FamilyBitaxe      Family = "bitaxe"
	FamilyUnknown     Family = "unknown"
)

// Families lists every family with configurable credentials.
var Families = []Family{
	FamilyWhatsminer,
	FamilyInnosilicon,
	FamilyAntminer,
	FamilyBOSminer,
	FamilyVNish,
	FamilyGoldshell,
	FamilyBitaxe,
}

// Handle is a capability object bound to one device.
type Handle interface {
	IP() string
	Family() Family
	Model() string

	// Telemetry fetches the requested fields. Fields the device cannot
	// report are left nil.
	Telemetry(ctx context.Context, fields FieldSet) (*Telemetry, error)
	// SendCommand runs a raw shell command and returns its output.
	SendCommand(ctx context.Context, command string) (string, error)
	PushConfig(ctx context.Context, cfg *minerconfig.Config) error
	GetConfig(ctx context.Context) (*minerconfig.Config, error)
	Reboot(ctx context.Context) error
	RestartBackend(ctx context.Context) error
	SetFaultLight(ctx context.Context, on bool) error
	// UnlockAdmin resets the API password to the factory default. Only
	// whatsminer devices implement it; others return ErrUnsupported.
	UnlockAdmin(ctx context.Context) error
}

// Resolver turns an IP into a Handle.
type Resolver interface {
	// Resolve returns nil, nil when nothing answers at ip.
	Resolve(ctx context.Context, ip string) (Handle, error)
	// Clear drops every cached handle.
	Clear()
}
