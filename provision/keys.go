package provision

import (
	"errors"

	"github.com/coder/cwg/secret"
	"github.com/coder/cwg/subprocess"
	"github.com/coder/cwg/validate"
)

var errMalformedKey = errors.New("wg printed a malformed key")

// keyPair holds generated key material outside the Go heap. Close wipes both
// halves.
type keyPair struct {
	private *secret.Buffer
	public  *secret.Buffer
}

func (k *keyPair) Close() {
	_ = k.private.Close()
	_ = k.public.Close()
	k.private, k.public = nil, nil
}

// keySteps fills k with a fresh private key and its public key. wg reads the
// private key from stdin.
func (p *Provisioner) keySteps(k *keyPair) []*step {
	return []*step{
		{
			description: "generating private key",
			run: func() error {
				var err error
				k.private, err = p.generate(p.wg("genkey"))
				return err
			},
		},
		{
			description: "calculating public key",
			run: func() error {
				var err error
				k.public, err = p.generate(p.wgWithKey(keyBytes(k.private), "pubkey"))
				return err
			},
		},
	}
}

// generate runs cmd and checks that it printed exactly one key, optionally
// followed by a newline.
func (p *Provisioner) generate(cmd subprocess.Command) (*secret.Buffer, error) {
	out, err := p.runner.RunCheck(cmd, true)
	if err != nil {
		return nil, err
	}
	b := out.Bytes()
	if len(b) == validate.KeyLength+1 && b[validate.KeyLength] == '\n' {
		b = b[:validate.KeyLength]
	}
	if !validate.IsKeyBytes(b) {
		_ = out.Close()
		return nil, errMalformedKey
	}
	return out, nil
}

// keyBytes is the key without its trailing newline.
func keyBytes(b *secret.Buffer) []byte {
	return b.Bytes()[:validate.KeyLength]
}
