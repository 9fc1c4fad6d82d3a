/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package protocol defines the messages exchanged between cantina clients
// and the server over the /ws socket, along with their binary encoding.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Version is sent with every Authenticate request. The server refuses
// clients whose version does not match exactly.
const Version = "0.1.0"

// WalkSpeed is the horizontal distance covered per second at full input.
const WalkSpeed = 96.0

// InstallationID identifies one client install, independent of any account.
type InstallationID = uuid.UUID

// AccountID identifies an authenticated person.
type AccountID = int64

// Now returns the current time as fractional seconds since the Unix epoch,
// the timestamp unit used on the wire.
func Now() float64 {
	return Timestamp(time.Now())
}

// Timestamp converts t to fractional seconds since the Unix epoch.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

type UserProfile struct {
	ID                  AccountID
	Username            string
	XOffset             float64
	HorizontalInput     float64
	LastUpdateTimestamp float64
}

// Advance moves the profile along by its current input for the time elapsed
// since its last update, never past the left edge of the world.
func (p *UserProfile) Advance(now float64) {
	elapsed := now - p.LastUpdateTimestamp
	if elapsed > 0 {
		p.XOffset = max(p.XOffset+elapsed*WalkSpeed*p.HorizontalInput, 0)
	}
	p.LastUpdateTimestamp = now
}

type Inputs struct {
	HorizontalMovement float64
	Interact           bool
}

// Request is a message sent from a client to the server. The set of
// implementations is closed: Authenticate, AuthenticationURL, Update and Pong.
type Request interface {
	requestTag() uint32
}

// Response is a message sent from the server to a client. The set of
// implementations is closed: AdoptInstallationID, AuthenticateAtURL,
// Authenticated, Error, WorldUpdate and Ping.
type Response interface {
	responseTag() uint32
}

type Authenticate struct {
	Version        string
	InstallationID *InstallationID
}

// AuthenticationURL asks the server for a login link for the current
// installation.
type AuthenticationURL struct{}

type Update struct {
	Inputs    *Inputs
	XOffset   float64
	Timestamp float64
}

type Pong struct {
	OriginalTimestamp float64
	Timestamp         float64
}

type AdoptInstallationID struct {
	InstallationID InstallationID
}

type AuthenticateAtURL struct {
	URL string
}

type Authenticated struct {
	Profile UserProfile
}

type Error struct {
	Message *string
}

type WorldUpdate struct {
	Timestamp float64
	Profiles  []UserProfile
}

type Ping struct {
	Timestamp                float64
	AverageServerClientDelta float64
	AverageRoundtrip         float64
}

const (
	tagAuthenticate      = 1
	tagAuthenticationURL = 2
	tagUpdate            = 3
	tagPong              = 4
)

const (
	tagAdoptInstallationID = 1
	tagAuthenticateAtURL   = 2
	tagAuthenticated       = 3
	tagError               = 4
	tagWorldUpdate         = 5
	tagPing                = 6
)

func (Authenticate) requestTag() uint32      { return tagAuthenticate }
func (AuthenticationURL) requestTag() uint32 { return tagAuthenticationURL }
func (Update) requestTag() uint32            { return tagUpdate }
func (Pong) requestTag() uint32              { return tagPong }

func (AdoptInstallationID) responseTag() uint32 { return tagAdoptInstallationID }
func (AuthenticateAtURL) responseTag() uint32   { return tagAuthenticateAtURL }
func (Authenticated) responseTag() uint32       { return tagAuthenticated }
func (Error) responseTag() uint32               { return tagError }
func (WorldUpdate) responseTag() uint32         { return tagWorldUpdate }
func (Ping) responseTag() uint32                { return tagPing }

// NewError builds an Error response carrying msg.
func NewError(msg string) Error {
	return Error{Message: &msg}
}
