package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"evslots/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const verificationAudience = "booking-verification"

// VerificationClaims identify one approved booking. The JWT ID is a nonce
// stored with the booking, so reissuing a token invalidates earlier ones.
type VerificationClaims struct {
	BookingID int64  `json:"bid"`
	StationID string `json:"sid"`
	jwt.RegisteredClaims
}

// Verifier signs and decodes verification tokens.
type Verifier struct {
	secret []byte
	grace  time.Duration
	now    func() time.Time
}

// NewVerifier creates a verifier. Tokens stay valid until grace after the
// reservation ends.
func NewVerifier(secret string, grace time.Duration) *Verifier {
	if grace <= 0 {
		grace = 2 * time.Hour
	}
	return &Verifier{secret: []byte(secret), grace: grace, now: time.Now}
}

// WithClock overrides the time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Issue creates a token for a booking ending at end and returns it with its nonce.
func (v *Verifier) Issue(bookingID int64, stationID string, end time.Time) (token, nonce string, err error) {
	nonce = uuid.NewString()
	claims := VerificationClaims{
		BookingID: bookingID,
		StationID: stationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Subject:   strconv.FormatInt(bookingID, 10),
			Audience:  jwt.ClaimStrings{verificationAudience},
			IssuedAt:  jwt.NewNumericDate(v.now().UTC()),
			ExpiresAt: jwt.NewNumericDate(end.UTC().Add(v.grace)),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign verification token: %w", err)
	}
	return token, nonce, nil
}

// Parse decodes a verification token. Any defect is reported as an
// invalid transition because the token only exists to complete a booking.
func (v *Verifier) Parse(token string) (*VerificationClaims, error) {
	claims := &VerificationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(verificationAudience),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid verification token", domain.ErrInvalidTransition)
	}
	if claims.BookingID <= 0 || claims.ID == "" {
		return nil, fmt.Errorf("%w: verification token is incomplete", domain.ErrInvalidTransition)
	}
	return claims, nil
}
