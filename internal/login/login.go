// Package login implements the account login exchange over the framed
// protocol: challenge, credential check, result, then session encryption.
package login

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/mwyndham/gatewire/internal/auth"
	"github.com/mwyndham/gatewire/internal/dispatch"
	"github.com/mwyndham/gatewire/internal/protocol"
)

// Login result bytes carried in the first payload byte of OpLoginResult.
const (
	ResultOK     = 0x01
	ResultDenied = 0x00
)

// RegisterHandlers wires the login and logout opcodes onto registry.
func RegisterHandlers(registry *dispatch.Registry, creds auth.CredentialStore, log zerolog.Logger) error {
	h := handlers{creds: creds, log: log}
	if err := registry.Register(protocol.OpLoginRequest, h.login); err != nil {
		return err
	}
	return registry.Register(protocol.OpLogout, h.logout)
}

type handlers struct {
	creds auth.CredentialStore
	log   zerolog.Logger
}

// login handles OpLoginRequest: two length-prefixed strings, account then
// secret. The request and the result travel clear-framed; encryption turns
// on for everything after a successful result so the client can decode the
// verdict with nothing but the frame codec.
func (h handlers) login(c dispatch.Conn, _ uint16, payload []byte) error {
	account, rest, err := protocol.ReadString(payload)
	if err != nil {
		return err
	}
	secret, _, err := protocol.ReadString(rest)
	if err != nil {
		return err
	}

	if err := c.Authenticating(); err != nil {
		// Duplicate login attempt on an already progressed connection.
		h.log.Warn().Int("conn_id", c.ID()).Str("account", account).Msg("login in invalid state")
		c.Close()
		return nil
	}

	if err := h.creds.Check(account, secret); err != nil {
		h.log.Info().
			Int("conn_id", c.ID()).
			Str("peer_ip", c.PeerIP()).
			Str("account", account).
			Msg("login denied")
		if err := c.Send(protocol.OpLoginResult, resultPayload(ResultDenied, "invalid credentials")); err != nil {
			return err
		}
		c.Close()
		return nil
	}

	if err := c.Authenticated(account); err != nil {
		c.Close()
		return err
	}
	if err := c.Send(protocol.OpLoginResult, resultPayload(ResultOK, "")); err != nil {
		return err
	}
	if err := c.EnableEncryption(); err != nil {
		return err
	}
	h.log.Info().
		Int("conn_id", c.ID()).
		Str("account", account).
		Msg("login accepted")
	return nil
}

func (h handlers) logout(c dispatch.Conn, _ uint16, _ []byte) error {
	if id := c.Identity(); id != "" {
		h.log.Info().Int("conn_id", c.ID()).Str("account", id).Msg("logout")
	}
	c.Close()
	return nil
}

func resultPayload(result byte, message string) []byte {
	out := []byte{result}
	return protocol.AppendString(out, message)
}

// RequestPayload builds an OpLoginRequest payload; clients and tests share
// the same encoding as the handler's decoder.
func RequestPayload(account, secret string) []byte {
	out := protocol.AppendString(nil, account)
	return protocol.AppendString(out, secret)
}

// ParseResult decodes an OpLoginResult payload.
func ParseResult(payload []byte) (result byte, message string, err error) {
	if len(payload) < 1 {
		return 0, "", errors.New("login: empty result payload")
	}
	message, _, err = protocol.ReadString(payload[1:])
	if err != nil {
		return 0, "", err
	}
	return payload[0], message, nil
}
