/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"fmt"
	"io"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/cantina/internal/protocol"
)

// LoginState is where this client stands with the server. The set of
// implementations is closed: LoggedOut, Connected, Authenticated and Error.
type LoginState interface {
	loginState()
}

// LoggedOut means a socket is open but the server has not answered the
// handshake yet.
type LoggedOut struct{}

// Connected means the server knows this installation but it is not linked to
// an account.
type Connected struct{}

type Authenticated struct {
	Profile protocol.UserProfile
}

// Error means the last connection attempt failed or the server rejected the
// client. Message is nil for transport failures, which are retried. A
// rejection with a message leaves the socket open and is not retried, since
// reconnecting would be rejected the same way.
type Error struct {
	Message *string
}

func (LoggedOut) loginState()     {}
func (Connected) loginState()     {}
func (Authenticated) loginState() {}
func (Error) loginState()         {}

// Status renders state the way the game shows it in its status line.
// roundtrip is in seconds.
func Status(state LoginState, roundtrip float64) string {
	switch state := state.(type) {
	case Authenticated:
		return fmt.Sprintf("Logged in as @%s - %.2fms", state.Profile.Username, roundtrip*1000)
	case Connected:
		return fmt.Sprintf("Connected - %.2fms", roundtrip*1000)
	case Error:
		if state.Message == nil {
			return "Error connecting."
		}
		return "Error connecting. " + *state.Message
	default:
		return "Connecting..."
	}
}

// loginLinkPresenter shows the player where to log in: as a QR code on out,
// and in their browser when openBrowser is set.
func loginLinkPresenter(log logrus.FieldLogger, out io.Writer, openBrowser bool) func(string) {
	return func(link string) {
		log.Infof("CLIENT: Log in at %s", link)

		code, err := qrcode.New(link, qrcode.Medium)
		if err != nil {
			log.Warnf("CLIENT: Unable to render login QR code: %v", err)
		} else {
			_, _ = io.WriteString(out, code.ToSmallString(false))
		}

		if openBrowser {
			if err := browser.OpenURL(link); err != nil {
				log.Warnf("CLIENT: Unable to open browser: %v", err)
			}
		}
	}
}
