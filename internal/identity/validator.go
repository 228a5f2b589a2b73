package identity

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hzakaria/guardpoint_backend/internal/utils"
)

// ErrInvalid is returned for any device token that does not validate. The
// validator is authoritative: there is no fingerprint-derived fallback.
var ErrInvalid = errors.New("identity: invalid device token")

// Validator checks a device/session token and yields the stable device
// identifier recorded on attendance records.
type Validator interface {
	Validate(token string) (deviceID string, err error)
}

type deviceClaims struct {
	DeviceUID string `json:"device_uid"`
	jwt.RegisteredClaims
}

// JWTValidator validates device tokens signed with a shared secret.
type JWTValidator struct {
	Secret string
}

func (v *JWTValidator) Validate(token string) (string, error) {
	claims := &deviceClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(v.Secret), nil
	})
	if err != nil || !parsed.Valid || claims.DeviceUID == "" {
		return "", ErrInvalid
	}
	// Store a digest, not the raw hardware identifier.
	return utils.SHA256Hex(claims.DeviceUID)[:32], nil
}
