/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Every message is an envelope holding exactly one length-delimited field.
// The field number is the variant tag and the field body is the variant's own
// fields, numbered as documented on each encoder below. Fields are written in
// ascending order and unknown fields inside a variant body are skipped, but an
// unknown variant tag is always rejected.

var (
	ErrMalformed  = errors.New("malformed message")
	ErrUnknownTag = errors.New("unknown message tag")
)

// EncodeRequest serializes req for transmission to the server.
func EncodeRequest(req Request) ([]byte, error) {
	var b []byte

	switch r := req.(type) {
	case Authenticate:
		b = appendString(b, 1, r.Version)
		if r.InstallationID != nil {
			b = appendBytes(b, 2, r.InstallationID[:])
		}
	case AuthenticationURL:
	case Update:
		if r.Inputs != nil {
			b = appendBytes(b, 1, appendInputs(nil, *r.Inputs))
		}
		b = appendDouble(b, 2, r.XOffset)
		b = appendDouble(b, 3, r.Timestamp)
	case Pong:
		b = appendDouble(b, 1, r.OriginalTimestamp)
		b = appendDouble(b, 2, r.Timestamp)
	default:
		return nil, fmt.Errorf("%w: cannot encode request %T", ErrUnknownTag, req)
	}

	return appendBytes(nil, protowire.Number(req.requestTag()), b), nil
}

// EncodeResponse serializes resp for transmission to a client.
func EncodeResponse(resp Response) ([]byte, error) {
	var b []byte

	switch r := resp.(type) {
	case AdoptInstallationID:
		b = appendBytes(b, 1, r.InstallationID[:])
	case AuthenticateAtURL:
		b = appendString(b, 1, r.URL)
	case Authenticated:
		b = appendBytes(b, 1, appendProfile(nil, r.Profile))
	case Error:
		if r.Message != nil {
			b = appendString(b, 1, *r.Message)
		}
	case WorldUpdate:
		b = appendDouble(b, 1, r.Timestamp)
		for _, p := range r.Profiles {
			b = appendBytes(b, 2, appendProfile(nil, p))
		}
	case Ping:
		b = appendDouble(b, 1, r.Timestamp)
		b = appendDouble(b, 2, r.AverageServerClientDelta)
		b = appendDouble(b, 3, r.AverageRoundtrip)
	default:
		return nil, fmt.Errorf("%w: cannot encode response %T", ErrUnknownTag, resp)
	}

	return appendBytes(nil, protowire.Number(resp.responseTag()), b), nil
}

// DecodeRequest parses one request received from a client.
func DecodeRequest(data []byte) (Request, error) {
	tag, body, err := openEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagAuthenticate:
		var r Authenticate
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			switch num {
			case 1:
				s, err := readBytes(typ, v)
				r.Version = string(s)
				return err
			case 2:
				id, err := readInstallationID(typ, v)
				r.InstallationID = &id
				return err
			}
			return nil
		})
		return r, err

	case tagAuthenticationURL:
		return AuthenticationURL{}, walkFields(body, skipField)

	case tagUpdate:
		var r Update
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			var err error
			switch num {
			case 1:
				var inputs Inputs
				inputs, err = readInputs(typ, v)
				r.Inputs = &inputs
			case 2:
				r.XOffset, err = readDouble(typ, v)
			case 3:
				r.Timestamp, err = readDouble(typ, v)
			}
			return err
		})
		return r, err

	case tagPong:
		var r Pong
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			var err error
			switch num {
			case 1:
				r.OriginalTimestamp, err = readDouble(typ, v)
			case 2:
				r.Timestamp, err = readDouble(typ, v)
			}
			return err
		})
		return r, err
	}

	return nil, fmt.Errorf("%w: request tag %d", ErrUnknownTag, tag)
}

// DecodeResponse parses one response received from the server.
func DecodeResponse(data []byte) (Response, error) {
	tag, body, err := openEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagAdoptInstallationID:
		var r AdoptInstallationID
		seen := false
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num != 1 {
				return nil
			}
			seen = true
			var err error
			r.InstallationID, err = readInstallationID(typ, v)
			return err
		})
		if err == nil && !seen {
			err = fmt.Errorf("%w: installation id missing", ErrMalformed)
		}
		return r, err

	case tagAuthenticateAtURL:
		var r AuthenticateAtURL
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num != 1 {
				return nil
			}
			s, err := readBytes(typ, v)
			r.URL = string(s)
			return err
		})
		return r, err

	case tagAuthenticated:
		var r Authenticated
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num != 1 {
				return nil
			}
			var err error
			r.Profile, err = readProfile(typ, v)
			return err
		})
		return r, err

	case tagError:
		var r Error
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			if num != 1 {
				return nil
			}
			s, err := readBytes(typ, v)
			msg := string(s)
			r.Message = &msg
			return err
		})
		return r, err

	case tagWorldUpdate:
		var r WorldUpdate
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			switch num {
			case 1:
				var err error
				r.Timestamp, err = readDouble(typ, v)
				return err
			case 2:
				p, err := readProfile(typ, v)
				r.Profiles = append(r.Profiles, p)
				return err
			}
			return nil
		})
		return r, err

	case tagPing:
		var r Ping
		err = walkFields(body, func(num protowire.Number, typ protowire.Type, v []byte) error {
			var err error
			switch num {
			case 1:
				r.Timestamp, err = readDouble(typ, v)
			case 2:
				r.AverageServerClientDelta, err = readDouble(typ, v)
			case 3:
				r.AverageRoundtrip, err = readDouble(typ, v)
			}
			return err
		})
		return r, err
	}

	return nil, fmt.Errorf("%w: response tag %d", ErrUnknownTag, tag)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Inputs: 1 horizontal_movement, 2 interact.
func appendInputs(b []byte, in Inputs) []byte {
	b = appendDouble(b, 1, in.HorizontalMovement)
	return appendVarint(b, 2, protowire.EncodeBool(in.Interact))
}

// UserProfile: 1 id, 2 username, 3 x_offset, 4 horizontal_input,
// 5 last_update_timestamp.
func appendProfile(b []byte, p UserProfile) []byte {
	b = appendVarint(b, 1, uint64(p.ID))
	b = appendString(b, 2, p.Username)
	b = appendDouble(b, 3, p.XOffset)
	b = appendDouble(b, 4, p.HorizontalInput)
	return appendDouble(b, 5, p.LastUpdateTimestamp)
}

func openEnvelope(data []byte) (uint32, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	if typ != protowire.BytesType {
		return 0, nil, fmt.Errorf("%w: envelope has wire type %d", ErrMalformed, typ)
	}

	body, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
	}
	if n+m != len(data) {
		return 0, nil, fmt.Errorf("%w: %d trailing bytes after envelope", ErrMalformed, len(data)-n-m)
	}

	return uint32(num), body, nil
}

func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}

	return nil
}

func skipField(protowire.Number, protowire.Type, []byte) error {
	return nil
}

func wrongType(want, got protowire.Type) error {
	return fmt.Errorf("%w: expected wire type %d, got %d", ErrMalformed, want, got)
}

func readDouble(typ protowire.Type, v []byte) (float64, error) {
	if typ != protowire.Fixed64Type {
		return 0, wrongType(protowire.Fixed64Type, typ)
	}
	x, _ := protowire.ConsumeFixed64(v)

	return math.Float64frombits(x), nil
}

func readVarint(typ protowire.Type, v []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, wrongType(protowire.VarintType, typ)
	}
	x, _ := protowire.ConsumeVarint(v)

	return x, nil
}

func readBytes(typ protowire.Type, v []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, wrongType(protowire.BytesType, typ)
	}
	x, _ := protowire.ConsumeBytes(v)

	return x, nil
}

func readInstallationID(typ protowire.Type, v []byte) (InstallationID, error) {
	raw, err := readBytes(typ, v)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: installation id: %v", ErrMalformed, err)
	}

	return id, nil
}

func readInputs(typ protowire.Type, v []byte) (Inputs, error) {
	var in Inputs

	raw, err := readBytes(typ, v)
	if err != nil {
		return in, err
	}

	err = walkFields(raw, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			var err error
			in.HorizontalMovement, err = readDouble(typ, v)
			return err
		case 2:
			x, err := readVarint(typ, v)
			in.Interact = protowire.DecodeBool(x)
			return err
		}
		return nil
	})

	return in, err
}

func readProfile(typ protowire.Type, v []byte) (UserProfile, error) {
	var p UserProfile

	raw, err := readBytes(typ, v)
	if err != nil {
		return p, err
	}

	err = walkFields(raw, func(num protowire.Number, typ protowire.Type, v []byte) error {
		var err error
		switch num {
		case 1:
			var id uint64
			id, err = readVarint(typ, v)
			p.ID = AccountID(id)
		case 2:
			var s []byte
			s, err = readBytes(typ, v)
			p.Username = string(s)
		case 3:
			p.XOffset, err = readDouble(typ, v)
		case 4:
			p.HorizontalInput, err = readDouble(typ, v)
		case 5:
			p.LastUpdateTimestamp, err = readDouble(typ, v)
		}
		return err
	})

	return p, err
}
