// Package handshake drives the ordered H1-H5 exchange that turns a bare
// WebSocket connection into an authenticated, structure-aware session
// (§4.5): key exchange, user authentication, token issuance, structure-file
// retrieval, and enabling binary status updates.
package handshake

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loxone-go/miniserverd/internal/crypto"
	"github.com/loxone-go/miniserverd/internal/wire"
)

// clientID and clientName identify this client to jdev/sys/getjwt, mirroring
// the fixed values the reference client registers with (§4.5).
const (
	clientID   = "8f6a1b2d-9c3e-4f71-9a6b-3e1c4d5a7b90"
	clientName = "loxoned"

	// permissionWeb is the WEB permission bit requested for the issued
	// token (§4.5). APP would grant a longer-lived token but is not
	// something this read-only client needs.
	permissionWeb = 2
)

// getKey2Value is the decoded payload of jdev/sys/getkey2/<user> (H2).
type getKey2Value struct {
	HashAlg string `json:"hashAlg"`
	Key     string `json:"key"`
	Salt    string `json:"salt"`
}

type getKey2Response struct {
	LL struct {
		Control string       `json:"control"`
		Code    string       `json:"code"`
		Value   getKey2Value `json:"value"`
	} `json:"LL"`
}

// Result is everything the handshake produced that the rest of the client
// needs: the raw structure document bytes. The codec passed to Run stays
// with the caller and is authenticated once Run returns without error.
type Result struct {
	Structure []byte
}

// Run executes H1 through H5 over codec, authenticating as user/password
// against the Miniserver whose RSA public key is publicKeyPEM. codec must be
// freshly dialled and not yet have exchanged any application messages.
func Run(ctx context.Context, codec *wire.Codec, publicKeyPEM, user, password string) (Result, error) {
	sessionID, err := randomClientUUID()
	if err != nil {
		return Result{}, fmt.Errorf("handshake: generate session id: %w", err)
	}
	slog.Info("handshake: starting", "session", sessionID)

	rsaPub, err := crypto.ParsePublicKey(publicKeyPEM)
	if err != nil {
		return Result{}, fmt.Errorf("handshake: parse public key: %w", err)
	}

	sessionKey, err := crypto.GenerateSessionKey()
	if err != nil {
		return Result{}, fmt.Errorf("handshake: generate session key: %w", err)
	}

	if err := h1KeyExchange(codec, sessionKey, rsaPub); err != nil {
		return Result{}, err
	}

	userHash, err := h2GetKey2(codec, user, password)
	if err != nil {
		return Result{}, err
	}

	if err := h3GetJWT(codec, sessionKey, user, userHash); err != nil {
		return Result{}, err
	}

	structure, err := h4FetchStructure(codec)
	if err != nil {
		return Result{}, err
	}

	if err := h5EnableBinaryStatusUpdates(codec); err != nil {
		return Result{}, err
	}

	return Result{Structure: structure}, nil
}

// h1KeyExchange seals the session key under the controller's public key and
// submits it via jdev/sys/keyexchange/<sealed> (§4.5 H1).
func h1KeyExchange(codec *wire.Codec, key crypto.SessionKey, pub *rsa.PublicKey) error {
	sealed, err := crypto.SealSession(key, pub)
	if err != nil {
		return fmt.Errorf("handshake H1: seal session: %w", err)
	}

	if err := codec.Send("jdev/sys/keyexchange/" + sealed); err != nil {
		return fmt.Errorf("handshake H1: send: %w", err)
	}

	if err := expectTextAck(codec, "H1"); err != nil {
		return err
	}
	return nil
}

// h2GetKey2 requests the user's hashing parameters and computes the
// password-derived authentication token (§4.5 H2).
func h2GetKey2(codec *wire.Codec, user, password string) (string, error) {
	if err := codec.Send("jdev/sys/getkey2/" + user); err != nil {
		return "", fmt.Errorf("handshake H2: send: %w", err)
	}

	header, err := codec.ReadHeader()
	if err != nil {
		return "", fmt.Errorf("handshake H2: read header: %w", err)
	}
	if err := wire.Expect(header, wire.Text); err != nil {
		return "", fmt.Errorf("handshake H2: %w", err)
	}

	var resp getKey2Response
	if err := codec.ReadJSON(&resp); err != nil {
		return "", fmt.Errorf("handshake H2: decode: %w", err)
	}
	if resp.LL.Code != "200" {
		return "", fmt.Errorf("handshake H2: code %q", resp.LL.Code)
	}

	return crypto.CalculateHash(user, password, resp.LL.Value.HashAlg, resp.LL.Value.Key, resp.LL.Value.Salt)
}

// h3GetJWT submits the salted, encrypted token request (§4.5 H3) and waits
// for its TEXT acknowledgement; the issued token is not parsed or kept. The
// salt guards against command replay; the whole command is itself
// AES-encrypted before being sent.
func h3GetJWT(codec *wire.Codec, key crypto.SessionKey, user, userHash string) error {
	salt, err := crypto.RandomHex(2)
	if err != nil {
		return fmt.Errorf("handshake H3: generate salt: %w", err)
	}

	command := fmt.Sprintf("salt/%s/jdev/sys/getjwt/%s/%s/%d/%s/%s", salt, userHash, user, permissionWeb, clientID, clientName)

	encrypted, err := crypto.EncryptCommand(key.AESKeyHex, key.AESIVHex, command)
	if err != nil {
		return fmt.Errorf("handshake H3: encrypt command: %w", err)
	}

	if err := codec.Send("jdev/sys/enc/" + encrypted); err != nil {
		return fmt.Errorf("handshake H3: send: %w", err)
	}

	return expectTextAck(codec, "H3")
}

// h4FetchStructure requests the structure document (§4.5 H4). The
// Miniserver advertises the download URL and checksum out of band; this
// client fetches the document it's handed as a plain FILE message.
func h4FetchStructure(codec *wire.Codec) ([]byte, error) {
	if err := codec.Send("data/LoxAPP3.json"); err != nil {
		return nil, fmt.Errorf("handshake H4: send: %w", err)
	}

	header, err := codec.ReadHeader()
	if err != nil {
		return nil, fmt.Errorf("handshake H4: read header: %w", err)
	}
	if err := wire.Expect(header, wire.File); err != nil {
		return nil, fmt.Errorf("handshake H4: %w", err)
	}

	body, err := codec.ReadFile()
	if err != nil {
		return nil, fmt.Errorf("handshake H4: read body: %w", err)
	}
	return []byte(body), nil
}

// enableBinStatusUpdateResponse is the decoded payload of
// jdev/sps/enablebinstatusupdate (H5). Unlike H1/H3's bare acknowledgements,
// a non-200 code or an unexpected value here is fatal: the connection would
// otherwise keep sending JSON value-states this client never reads.
type enableBinStatusUpdateResponse struct {
	LL struct {
		Control string `json:"control"`
		Code    string `json:"code"`
		Value   string `json:"value"`
	} `json:"LL"`
}

// h5EnableBinaryStatusUpdates switches the session into binary VALUE_STATES
// mode (§4.5 H5); without this call the Miniserver keeps sending JSON.
func h5EnableBinaryStatusUpdates(codec *wire.Codec) error {
	if err := codec.Send("jdev/sps/enablebinstatusupdate"); err != nil {
		return fmt.Errorf("handshake H5: send: %w", err)
	}

	header, err := codec.ReadHeader()
	if err != nil {
		return fmt.Errorf("handshake H5: read header: %w", err)
	}
	if err := wire.Expect(header, wire.Text); err != nil {
		return fmt.Errorf("handshake H5: %w", err)
	}

	var resp enableBinStatusUpdateResponse
	if err := codec.ReadJSON(&resp); err != nil {
		return fmt.Errorf("handshake H5: decode: %w", err)
	}
	if resp.LL.Code != "200" {
		return fmt.Errorf("handshake H5: code %q", resp.LL.Code)
	}
	if resp.LL.Value != "1" {
		return fmt.Errorf("handshake H5: value %q", resp.LL.Value)
	}
	return nil
}

// expectTextAck reads one header+body pair and asserts it is a TEXT
// message, discarding the body — H1 and H3 acknowledge with an envelope
// this client does not otherwise need (H2 and H5 decode theirs, H4 is a
// FILE).
func expectTextAck(codec *wire.Codec, step string) error {
	header, err := codec.ReadHeader()
	if err != nil {
		return fmt.Errorf("handshake %s: read header: %w", step, err)
	}
	if err := wire.Expect(header, wire.Text); err != nil {
		return fmt.Errorf("handshake %s: %w", step, err)
	}
	if _, err := codec.ReadText(); err != nil {
		return fmt.Errorf("handshake %s: read body: %w", step, err)
	}
	return nil
}

// randomClientUUID generates a UUID suitable for tagging this client
// instance in diagnostics (§4.14).
func randomClientUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
