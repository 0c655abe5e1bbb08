package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// GenerateSecret creates a fresh shared secret and returns it alongside the
// otpauth:// provisioning URI that authenticator apps consume.
func GenerateSecret(issuer, account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// CurrentCode returns the code valid for the secret right now. Used by the
// CLI for setup smoke tests, never by the verification path.
func CurrentCode(secret string) (string, error) {
	return CodeAt(secret, time.Now())
}

// CodeAt returns the code valid for the secret at the given instant.
func CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, validateOpts())
}
