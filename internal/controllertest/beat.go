package controllertest

import (
	"errors"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/packer"
)

// sessionKeyOffset is where the session key starts in a decrypted beat.
const sessionKeyOffset = 44

var ErrShortBeat = errors.New("beat too short to hold a session key")

// SessionKey decrypts a beat and pulls out the agent's session key.
func SessionKey(beat []byte, cipher packer.Cipher, encryptKey []byte) ([]byte, error) {
	plain, err := cipher.Decrypt(beat, encryptKey)
	if err != nil {
		return nil, err
	}
	if len(plain) < sessionKeyOffset+agent.SessionKeySize {
		return nil, ErrShortBeat
	}
	key := make([]byte, agent.SessionKeySize)
	copy(key, plain[sessionKeyOffset:])
	return key, nil
}
