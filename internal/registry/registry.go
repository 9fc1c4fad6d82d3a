/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package registry tracks which installations are connected, which account
// each one is logged into, and how to reach them.
package registry

import (
	"sync"

	"github.com/Seednode/cantina/internal/protocol"
)

type (
	InstallationID = protocol.InstallationID
	AccountID      = protocol.AccountID
)

// Registry maps connected installations to their outbound queues and to the
// accounts they are linked to. The zero value is not usable; call New.
//
// All sends are non-blocking channel sends made under the read lock. A queue
// that is full drops the message, the same way a disconnected installation
// does.
type Registry struct {
	mu sync.RWMutex

	senders                map[InstallationID]chan<- protocol.Response
	installationsByAccount map[AccountID]map[InstallationID]struct{}
	accountByInstallation  map[InstallationID]AccountID
}

func New() *Registry {
	return &Registry{
		senders:                make(map[InstallationID]chan<- protocol.Response),
		installationsByAccount: make(map[AccountID]map[InstallationID]struct{}),
		accountByInstallation:  make(map[InstallationID]AccountID),
	}
}

// Lease is held by a connection for as long as it is registered. Releasing it
// unregisters the connection exactly once, and only if the installation has
// not since been registered by a newer connection.
type Lease struct {
	registry *Registry
	id       InstallationID
	sender   chan<- protocol.Response
	once     sync.Once
}

func (l *Lease) InstallationID() InstallationID {
	return l.id
}

// Release unregisters the connection. It is safe to call more than once and
// is meant to be deferred by the goroutine that owns the connection.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.release(l.id, l.sender)
	})
}

// Connect registers sender as the outbound queue for id, replacing any queue
// registered before it.
func (r *Registry) Connect(id InstallationID, sender chan<- protocol.Response) *Lease {
	r.mu.Lock()
	r.senders[id] = sender
	r.mu.Unlock()

	return &Lease{registry: r, id: id, sender: sender}
}

// AssociateAccount links id to account in both directions and reports
// whether id is connected. An installation belongs to at most one account, so
// any previous link is replaced. Installations that are not connected are
// left alone.
func (r *Registry) AssociateAccount(id InstallationID, account AccountID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.senders[id]; !ok {
		return false
	}

	if previous, ok := r.accountByInstallation[id]; ok {
		if previous == account {
			return true
		}
		r.unlinkLocked(id, previous)
	}

	r.accountByInstallation[id] = account

	installations, ok := r.installationsByAccount[account]
	if !ok {
		installations = make(map[InstallationID]struct{})
		r.installationsByAccount[account] = installations
	}
	installations[id] = struct{}{}

	return true
}

// Disconnect removes id's queue and account link. Disconnecting an
// installation that is not registered does nothing.
func (r *Registry) Disconnect(id InstallationID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnectLocked(id)
}

func (r *Registry) release(id InstallationID, sender chan<- protocol.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.senders[id]; !ok || current != sender {
		return
	}

	r.disconnectLocked(id)
}

func (r *Registry) disconnectLocked(id InstallationID) {
	delete(r.senders, id)

	if account, ok := r.accountByInstallation[id]; ok {
		r.unlinkLocked(id, account)
	}
}

func (r *Registry) unlinkLocked(id InstallationID, account AccountID) {
	delete(r.accountByInstallation, id)

	installations := r.installationsByAccount[account]
	delete(installations, id)
	if len(installations) == 0 {
		delete(r.installationsByAccount, account)
	}
}

// SendToInstallation queues msg for id. It reports whether the message was
// queued; an installation that is not connected is not an error.
func (r *Registry) SendToInstallation(id InstallationID, msg protocol.Response) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return offer(r.senders[id], msg)
}

// SendToAccount queues msg for every installation linked to account and
// returns how many accepted it.
func (r *Registry) SendToAccount(account AccountID, msg protocol.Response) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for id := range r.installationsByAccount[account] {
		if offer(r.senders[id], msg) {
			sent++
		}
	}

	return sent
}

// Broadcast queues msg for every connected installation and returns how many
// accepted it.
func (r *Registry) Broadcast(msg protocol.Response) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for _, sender := range r.senders {
		if offer(sender, msg) {
			sent++
		}
	}

	return sent
}

func offer(sender chan<- protocol.Response, msg protocol.Response) bool {
	if sender == nil {
		return false
	}

	select {
	case sender <- msg:
		return true
	default:
		return false
	}
}

// Accounts returns the accounts with at least one linked installation.
func (r *Registry) Accounts() []AccountID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]AccountID, 0, len(r.installationsByAccount))
	for account := range r.installationsByAccount {
		accounts = append(accounts, account)
	}

	return accounts
}

// AccountOf returns the account id is linked to, if any.
func (r *Registry) AccountOf(id InstallationID) (AccountID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accountByInstallation[id]

	return account, ok
}

// InstallationsOf returns the installations linked to account.
func (r *Registry) InstallationsOf(account AccountID) []InstallationID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]InstallationID, 0, len(r.installationsByAccount[account]))
	for id := range r.installationsByAccount[account] {
		ids = append(ids, id)
	}

	return ids
}

// Connected reports whether id currently has a registered queue.
func (r *Registry) Connected(id InstallationID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.senders[id]

	return ok
}

// Len returns the number of connected installations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.senders)
}
